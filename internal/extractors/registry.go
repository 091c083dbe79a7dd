package extractors

import (
	"log/slog"

	"github.com/toricodesthings/document-ingestion-service/internal/config"
	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/extractors/office"
	"github.com/toricodesthings/document-ingestion-service/internal/extractors/pdf"
	"github.com/toricodesthings/document-ingestion-service/internal/extractors/plaintext"
)

// NewRegistry registers one extractor per supported kind, picking the PDF
// renderer and DOCX converter named in cfg.
func NewRegistry(cfg config.Config, logger *slog.Logger) *extract.Registry {
	var renderer pdf.Renderer = pdf.NewNative()
	if cfg.PDFRenderer == "poppler" {
		renderer = pdf.NewPoppler(cfg.PDFToTextBinary, cfg.PDFToTextTimeout, logger)
	}

	var converter office.DocumentConverter = office.NewNativeConverter()
	if cfg.DocxConverter == "libreoffice" {
		converter = office.NewLibreOffice(cfg.LibreOfficeBinary, cfg.LibreOfficeTimeout)
	}

	registry := extract.NewRegistry()
	registry.Register(plaintext.New())
	registry.Register(pdf.New(renderer))
	registry.Register(office.NewXLSX())
	registry.Register(office.NewDOCX(converter))
	return registry
}
