package tools

// Helpers for building JSON Schema objects.

func prop(typ, desc string) map[string]any {
	p := map[string]any{"type": typ}
	if desc != "" {
		p["description"] = desc
	}
	return p
}

func enumProp(desc string, values ...string) map[string]any {
	p := prop("string", desc)
	p["enum"] = values
	return p
}

func withDefault(p map[string]any, v any) map[string]any {
	p["default"] = v
	return p
}

func arrayOf(itemType, desc string) map[string]any {
	p := prop("array", desc)
	p["items"] = map[string]any{"type": itemType}
	return p
}

func obj(properties map[string]any) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
}

func objReq(properties map[string]any, required ...string) map[string]any {
	s := obj(properties)
	s["required"] = required
	return s
}
