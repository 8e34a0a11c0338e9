package response

import (
	"fmt"

	"github.com/kaorahi/katawrap/internal/pipeline"
	"github.com/kaorahi/katawrap/internal/sorter"
)

// ignorableKeys mirrors is_ignorable_response's action/noResults/
// isDuringSearch check: any of these truthy makes the line a progress
// notice rather than a final result.
var ignorableKeys = []string{"action", "noResults", "isDuringSearch"}

// NewClassifier builds a pipeline.ResponseClassifier against s, applying
// spec.md §4.4's classification order: error, then ignorable, then
// warning, then normal. Grounded on handle_invalid_response/
// is_error_response/is_ignorable_response/is_warning_response.
func NewClassifier(s *sorter.Sorter) pipeline.ResponseClassifier {
	return func(line string) (pipeline.Classified, error) {
		data, err := Parse(line)
		if err != nil {
			return pipeline.Classified{}, fmt.Errorf("response: parse: %w", err)
		}

		if errVal, ok := data["error"]; ok {
			return pipeline.Classified{
				Class:   pipeline.ClassError,
				ErrorID: idOf(data),
				Message: fmt.Sprint(errVal),
			}, nil
		}

		res := toResponse(data)
		if isIgnorable(data, s, res) {
			return pipeline.Classified{Class: pipeline.ClassIgnorable}, nil
		}

		if warnVal, ok := data["warning"]; ok {
			return pipeline.Classified{
				Class:    pipeline.ClassWarning,
				Response: res,
				Message:  fmt.Sprint(warnVal),
			}, nil
		}

		return pipeline.Classified{Class: pipeline.ClassNormal, Response: res}, nil
	}
}

func isIgnorable(data map[string]any, s *sorter.Sorter, res sorter.Response) bool {
	for _, k := range ignorableKeys {
		if truthy(data[k]) {
			return true
		}
	}
	_, corresponds := s.GetRequestFor(res)
	return !corresponds
}
