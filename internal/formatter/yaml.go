package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/medtriage/internal/ingress"
	"github.com/harunnryd/medtriage/internal/retrieval"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatResponse(resp ingress.Response) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *YAMLFormatter) FormatDocuments(docs []retrieval.RetrievedDocument) (string, error) {
	if len(docs) == 0 {
		return "[]", nil
	}
	data, err := yaml.Marshal(docs)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
