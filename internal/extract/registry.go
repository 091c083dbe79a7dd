package extract

import "fmt"

type Registry struct {
	byKind     map[Kind]Extractor
	extractors []Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		byKind:     make(map[Kind]Extractor),
		extractors: make([]Extractor, 0),
	}
}

// Register adds e under its kind. A later registration for the same kind replaces the earlier one.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	r.byKind[e.Kind()] = e
}

func (r *Registry) Resolve(kind Kind) (Extractor, error) {
	if e, ok := r.byKind[kind]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w for kind %q", ErrNoExtractor, kind)
}

func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.byKind))
	for _, k := range []Kind{KindText, KindPDF, KindSpreadsheet, KindDocument} {
		if _, ok := r.byKind[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
