package backend

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Configuration holds the complete set of catalog resource descriptors.
// It is parsed once at startup and is read-only afterwards.
type Configuration struct {
	Collections []collectionConfiguration `json:"collections"`
}

// fieldConfiguration declares one typed scalar column of a collection
type fieldConfiguration struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// collectionConfiguration describes one generic catalog resource: its
// columns, which of them hold embedded JSON documents, which participate
// in substring search, and the fixed ordering of list responses.
type collectionConfiguration struct {
	Resource      string               `json:"resource"`
	Description   string               `json:"description"`
	Fields        []fieldConfiguration `json:"fields"`
	JSONFields    []string             `json:"json_fields"`
	SearchColumns []string             `json:"search_columns"`
	DefaultOrder  string               `json:"default_order"`
}

// the configuration itself follows a schema; a configuration that does
// not validate is a programming error and stops the service at startup
var configurationSchemaString = `{
	"$id": "https://gt3pedia.net/backend-configuration.json",
	"type": "object",
	"required": ["collections"],
	"additionalProperties": false,
	"properties": {
		"collections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["resource", "fields"],
				"additionalProperties": false,
				"properties": {
					"resource": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
					"description": {"type": "string"},
					"fields": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["name", "type"],
							"additionalProperties": false,
							"properties": {
								"name": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
								"type": {"enum": ["text", "int", "float"]}
							}
						}
					},
					"json_fields": {"type": "array", "items": {"type": "string"}},
					"search_columns": {"type": "array", "items": {"type": "string"}},
					"default_order": {"type": "string"}
				}
			}
		}
	}
}`

func validateConfiguration(configJSON string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configurationSchemaString),
		gojsonschema.NewStringLoader(configJSON))
	if err != nil {
		return fmt.Errorf("cannot validate configuration: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("configuration does not follow schema: %s", strings.Join(details, "; "))
	}
	return nil
}

// validate checks the cross-field constraints the JSON schema cannot
// express: json_fields and search_columns must name declared fields.
func (rc collectionConfiguration) validate() error {
	declared := make(map[string]bool, len(rc.Fields))
	for _, field := range rc.Fields {
		if declared[field.Name] {
			return fmt.Errorf("resource %s declares field %s twice", rc.Resource, field.Name)
		}
		declared[field.Name] = true
	}
	for _, name := range rc.JSONFields {
		if !declared[name] {
			return fmt.Errorf("resource %s declares unknown json field %s", rc.Resource, name)
		}
	}
	for _, name := range rc.SearchColumns {
		if !declared[name] {
			return fmt.Errorf("resource %s declares unknown search column %s", rc.Resource, name)
		}
	}
	return nil
}
