package catalog

// catalogSchema is the JSON Schema the models file must satisfy after YAML
// decoding.
const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["models"],
  "properties": {
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "provider"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1,
            "description": "Canonical model name"
          },
          "provider": {
            "type": "string",
            "enum": ["anthropic", "openai"],
            "description": "API provider for advisory calls"
          },
          "agent": {
            "type": "string",
            "description": "CLI agent name; absent for API-only models"
          },
          "aliases": {
            "type": "array",
            "items": {
              "type": "string",
              "minLength": 1
            }
          },
          "max_tokens": {
            "type": "integer",
            "minimum": 1,
            "description": "Advisory response token cap"
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
