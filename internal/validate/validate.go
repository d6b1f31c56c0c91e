package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateJSON validates an object (already converted to JSON) with the given schema.
func ValidateJSON(obj any, schemaSrc string) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", strings.NewReader(schemaSrc)); err != nil {
		return err
	}
	sch, err := c.Compile("mem://schema.json")
	if err != nil {
		return err
	}
	return sch.Validate(obj)
}

// ValidateConfigMap validates a decoded TOML document against the config schema.
// TOML integers and dates are normalized through JSON first.
func ValidateConfigMap(m map[string]any) error {
	obj, err := toJSONValue(m)
	if err != nil {
		return err
	}
	return ValidateJSON(obj, configSchema)
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return out, nil
}

const configSchema = `{
  "$schema":"https://json-schema.org/draft/2020-12/schema",
  "type":"object",
  "additionalProperties":false,
  "required":["process"],
  "$defs":{
    "duration":{"type":"string","pattern":"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"},
    "size":{"type":"string","pattern":"^[0-9]+(\\.[0-9]+)? ?([KMGTPEkmgtpe][Ii]?)?[Bb]?$"},
    "strings":{"type":"array","items":{"type":"string"}}
  },
  "properties":{
    "codename":{"type":"string","minLength":1},
    "process":{
      "type":"object",
      "additionalProperties":false,
      "required":["command"],
      "properties":{
        "command":{"type":"string","minLength":1},
        "args":{"$ref":"#/$defs/strings"},
        "working_dir":{"type":"string"},
        "env":{"type":"object","additionalProperties":{"type":"string"}},
        "name":{"type":"string"},
        "capture_output":{"type":"boolean"},
        "graceful_signal":{"type":"string"},
        "open_files":{"type":"integer","minimum":0}
      }
    },
    "limits":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "max_memory":{"$ref":"#/$defs/size"},
        "max_uptime":{"$ref":"#/$defs/duration"}
      }
    },
    "timing":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "monitor_interval":{"$ref":"#/$defs/duration"},
        "prior_kill":{"$ref":"#/$defs/duration"},
        "prior_kill_last_warning":{"$ref":"#/$defs/duration"},
        "statistics_interval":{"$ref":"#/$defs/duration"},
        "statistics_initial_delay":{"$ref":"#/$defs/duration"},
        "backup_interval":{"$ref":"#/$defs/duration"},
        "graceful_timeout":{"$ref":"#/$defs/duration"},
        "kill_settle":{"$ref":"#/$defs/duration"},
        "signal_attempts":{"type":"integer","minimum":1},
        "signal_interval":{"$ref":"#/$defs/duration"},
        "start_attempts":{"type":"integer","minimum":1},
        "start_retry_delay":{"$ref":"#/$defs/duration"},
        "resolve_attempts":{"type":"integer","minimum":1},
        "resolve_interval":{"$ref":"#/$defs/duration"}
      }
    },
    "backup":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "enabled":{"type":"boolean"},
        "command":{"type":"string"},
        "args":{"$ref":"#/$defs/strings"},
        "working_dir":{"type":"string"},
        "log_path":{"type":"string"},
        "data_path":{"type":"string"},
        "upload_data":{"type":"boolean"}
      }
    },
    "notify":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "min_level":{"type":"string","enum":["trace","debug","info","warn","error","fatal"]},
        "mention":{"type":"string"},
        "queue_size":{"type":"integer","minimum":1},
        "start_message":{"type":"string"},
        "stop_message":{"type":"string"},
        "discord":{
          "type":"object",
          "additionalProperties":false,
          "properties":{
            "webhook_url":{"type":"string"},
            "message_limit":{"type":"integer","minimum":16,"maximum":2000}
          }
        },
        "nats":{
          "type":"object",
          "additionalProperties":false,
          "properties":{
            "url":{"type":"string"},
            "subject":{"type":"string"}
          }
        },
        "mqtt":{
          "type":"object",
          "additionalProperties":false,
          "properties":{
            "broker":{"type":"string"},
            "topic":{"type":"string"},
            "client_id":{"type":"string"},
            "qos":{"type":"integer","enum":[0,1,2]}
          }
        }
      }
    },
    "log":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "level":{"type":"string","enum":["trace","debug","info","warn","error","fatal"]},
        "file":{"type":"string"},
        "max_size_mb":{"type":"integer","minimum":1},
        "max_backups":{"type":"integer","minimum":0},
        "max_age_days":{"type":"integer","minimum":0},
        "compress":{"type":"boolean"}
      }
    },
    "http":{
      "type":"object",
      "additionalProperties":false,
      "properties":{
        "enabled":{"type":"boolean"},
        "addr":{"type":"string"}
      }
    }
  }
}`
