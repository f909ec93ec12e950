package formatter

import (
	"encoding/json"

	"github.com/harunnryd/medtriage/internal/ingress"
	"github.com/harunnryd/medtriage/internal/retrieval"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatResponse(resp ingress.Response) (string, error) {
	return marshalIndent(resp)
}

func (f *JSONFormatter) FormatDocuments(docs []retrieval.RetrievedDocument) (string, error) {
	if docs == nil {
		docs = []retrieval.RetrievedDocument{}
	}
	return marshalIndent(docs)
}

func marshalIndent(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
