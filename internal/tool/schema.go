//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package tool derives JSON schemas for tool declarations from Go types.
package tool

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// GenerateJSONSchema generates a JSON schema from a reflect.Type. Struct
// fields honor json tags for naming, json:"-" for exclusion, omitempty and
// pointer types for optionality, and a description tag for documentation.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	switch t.Kind() {
	case reflect.Struct:
		schema := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
		required := make([]string, 0)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, omitEmpty, skip := parseJSONTag(field)
			if skip {
				continue
			}
			fieldSchema := GenerateFieldSchema(field.Type)
			if desc := field.Tag.Get("description"); desc != "" {
				fieldSchema.Description = desc
			}
			schema.Properties[name] = fieldSchema
			if field.Type.Kind() != reflect.Ptr && !omitEmpty {
				required = append(required, name)
			}
		}
		if len(required) > 0 {
			schema.Required = required
		}
		return schema
	case reflect.Ptr:
		return nullable(GenerateFieldSchema(t.Elem()))
	default:
		return GenerateFieldSchema(t)
	}
}

// GenerateFieldSchema generates the schema for one field type.
func GenerateFieldSchema(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: GenerateFieldSchema(t.Elem())}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: GenerateFieldSchema(t.Elem())}
	case reflect.Ptr:
		return nullable(GenerateFieldSchema(t.Elem()))
	case reflect.Struct:
		return GenerateJSONSchema(t)
	default:
		return &tool.Schema{Type: "object"}
	}
}

func parseJSONTag(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	if idx := strings.Index(tag, ","); idx != -1 {
		if tag[:idx] != "" {
			name = tag[:idx]
		}
		omitEmpty = strings.Contains(tag[idx:], "omitempty")
		return name, omitEmpty, false
	}
	return tag, false, false
}

func nullable(schema *tool.Schema) *tool.Schema {
	if !strings.HasSuffix(schema.Type, ",null") {
		schema.Type += ",null"
	}
	return schema
}
