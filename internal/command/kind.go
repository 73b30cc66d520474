package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the scalar type an attribute must convert to.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindUint
	KindBool
	KindFloat
	KindDuration
)

var kindNames = map[Kind]string{
	KindString:   "string",
	KindInt:      "int",
	KindUint:     "uint",
	KindBool:     "bool",
	KindFloat:    "float",
	KindDuration: "duration",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind by name ("integer" and "boolean" are accepted as aliases).
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "uint":
		return KindUint, nil
	case "bool", "boolean":
		return KindBool, nil
	case "float", "double":
		return KindFloat, nil
	case "duration":
		return KindDuration, nil
	default:
		return 0, fmt.Errorf("unknown attribute kind %q", name)
	}
}

// Parse converts raw to the kind's Go value.
func (k Kind) Parse(raw string) (any, error) {
	switch k {
	case KindString:
		return raw, nil
	case KindInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case KindUint:
		return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case KindFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case KindDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	default:
		return nil, fmt.Errorf("unsupported kind %s", k)
	}
}
