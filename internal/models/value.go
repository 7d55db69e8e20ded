package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueNumber
	ValueText
)

func (k ValueKind) String() string {
	switch k {
	case ValueNumber:
		return "number"
	case ValueText:
		return "text"
	default:
		return "none"
	}
}

// IndicatorValue holds a raw answer: nothing, a number, or free text.
// It marshals to JSON null, a number or a string.
type IndicatorValue struct {
	kind ValueKind
	num  float64
	text string
}

func NoValue() IndicatorValue { return IndicatorValue{} }

func NumberValue(v float64) IndicatorValue {
	return IndicatorValue{kind: ValueNumber, num: v}
}

func TextValue(s string) IndicatorValue {
	return IndicatorValue{kind: ValueText, text: s}
}

func (v IndicatorValue) Kind() ValueKind { return v.kind }

// IsSet reports whether the indicator counts as answered. Empty or blank text does not.
func (v IndicatorValue) IsSet() bool {
	switch v.kind {
	case ValueNumber:
		return true
	case ValueText:
		return strings.TrimSpace(v.text) != ""
	default:
		return false
	}
}

func (v IndicatorValue) Text() string {
	switch v.kind {
	case ValueText:
		return v.text
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the numeric reading of the value. Text is parsed; yes/no and
// true/false read as 1 and 0.
func (v IndicatorValue) Float() (float64, bool) {
	switch v.kind {
	case ValueNumber:
		return v.num, true
	case ValueText:
		s := strings.TrimSpace(strings.ToLower(v.text))
		switch s {
		case "":
			return 0, false
		case "yes", "true":
			return 1, true
		case "no", "false":
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (v IndicatorValue) Equal(o IndicatorValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNumber:
		return v.num == o.num
	case ValueText:
		return v.text == o.text
	default:
		return true
	}
}

func (v IndicatorValue) String() string {
	if v.kind == ValueNone {
		return "null"
	}
	return v.Text()
}

func (v IndicatorValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

func (v *IndicatorValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = IndicatorValue{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		if b {
			*v = NumberValue(1)
		} else {
			*v = NumberValue(0)
		}
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("indicator value must be null, a number or a string: %w", err)
		}
		*v = NumberValue(f)
		return nil
	}
}
