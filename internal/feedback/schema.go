package feedback

import (
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const feedbackSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["overallScore", "ATS", "toneAndStyle", "content", "structure", "skills"],
  "properties": {
    "overallScore": {"$ref": "#/definitions/score"},
    "ATS": {"$ref": "#/definitions/category"},
    "toneAndStyle": {"$ref": "#/definitions/category"},
    "content": {"$ref": "#/definitions/category"},
    "structure": {"$ref": "#/definitions/category"},
    "skills": {"$ref": "#/definitions/category"}
  },
  "definitions": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "category": {
      "type": "object",
      "required": ["score", "tips"],
      "properties": {
        "score": {"$ref": "#/definitions/score"},
        "tips": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type", "tip"],
            "properties": {
              "type": {"enum": ["good", "improve"]},
              "tip": {"type": "string", "minLength": 1},
              "explanation": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(feedbackSchemaJSON))
})

// validateSchema 校验已解码的文档，返回所有不符合项的描述
func validateSchema(doc any) ([]string, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
