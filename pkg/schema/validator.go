// Package schema validates dynamic payloads against a declared
// JSON-Schema-like structure. The validator is side-effect free and ignores
// unknown schema keywords so schema authors can adopt newer keywords without
// breaking older engines.
package schema

import (
	"fmt"

	"github.com/skeinai/skein/pkg/domain"
)

// Validate checks value against the declared schema and returns nil on
// success or a structured validation error naming the violating path.
// A schema that is not a map (including null) accepts everything.
func Validate(value, schema domain.Value) *domain.Error {
	return validate(value, schema, "$")
}

func validate(value, schema domain.Value, path string) *domain.Error {
	if schema.Kind != domain.KindMap {
		return nil
	}

	if typeName, ok := stringKeyword(schema, "type"); ok {
		if err := checkType(value, typeName, path); err != nil {
			return err
		}
	}

	if enum, ok := schema.Field("enum"); ok && enum.Kind == domain.KindList {
		if err := checkEnum(value, enum, path); err != nil {
			return err
		}
	}

	switch value.Kind {
	case domain.KindNumber:
		if err := checkBounds(value, schema, path); err != nil {
			return err
		}
	case domain.KindString:
		if maxLen, ok := numberKeyword(schema, "maxLength"); ok && float64(len([]rune(value.Str))) > maxLen {
			return domain.ValidationError(path, fmt.Sprintf("string length %d exceeds maxLength %d", len([]rune(value.Str)), int(maxLen)))
		}
	case domain.KindMap:
		if err := checkObject(value, schema, path); err != nil {
			return err
		}
	case domain.KindList:
		if items, ok := schema.Field("items"); ok {
			for i, item := range value.List {
				if err := validate(item, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func checkType(value domain.Value, typeName, path string) *domain.Error {
	ok := false
	switch typeName {
	case "object":
		ok = value.Kind == domain.KindMap
	case "array":
		ok = value.Kind == domain.KindList
	case "string":
		ok = value.Kind == domain.KindString
	case "number":
		ok = value.Kind == domain.KindNumber
	case "integer":
		ok = value.IsInteger()
	case "boolean":
		ok = value.Kind == domain.KindBool
	case "null":
		ok = value.Kind == domain.KindNull
	default:
		// Unknown type names are treated as an unknown keyword, never fatal.
		return nil
	}
	if !ok {
		return domain.ValidationError(path, fmt.Sprintf("expected %s, got %s", typeName, value.Kind))
	}
	return nil
}

func checkEnum(value, enum domain.Value, path string) *domain.Error {
	for _, allowed := range enum.List {
		if value.Equal(allowed) {
			return nil
		}
	}
	return domain.ValidationError(path, "value is not one of the allowed enum values")
}

func checkBounds(value, schema domain.Value, path string) *domain.Error {
	if minimum, ok := numberKeyword(schema, "minimum"); ok && value.Num < minimum {
		return domain.ValidationError(path, fmt.Sprintf("%v is below minimum %v", value.Num, minimum))
	}
	if maximum, ok := numberKeyword(schema, "maximum"); ok && value.Num > maximum {
		return domain.ValidationError(path, fmt.Sprintf("%v is above maximum %v", value.Num, maximum))
	}
	return nil
}

func checkObject(value, schema domain.Value, path string) *domain.Error {
	if required, ok := schema.Field("required"); ok && required.Kind == domain.KindList {
		for _, name := range required.List {
			propName, ok := name.AsString()
			if !ok {
				continue
			}
			if _, present := value.Field(propName); !present {
				return domain.ValidationError(path+"."+propName, "required property missing")
			}
		}
	}

	if properties, ok := schema.Field("properties"); ok && properties.Kind == domain.KindMap {
		for propName, propSchema := range properties.Map {
			propValue, present := value.Field(propName)
			if !present {
				continue
			}
			if err := validate(propValue, propSchema, path+"."+propName); err != nil {
				return err
			}
		}
	}

	return nil
}

func stringKeyword(schema domain.Value, key string) (string, bool) {
	field, ok := schema.Field(key)
	if !ok {
		return "", false
	}
	return field.AsString()
}

func numberKeyword(schema domain.Value, key string) (float64, bool) {
	field, ok := schema.Field(key)
	if !ok {
		return 0, false
	}
	return field.AsNumber()
}
