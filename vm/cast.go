package vm

import (
	"strconv"
	"strings"
)

// castValue implements the CAST opcode's conversion table (§4.4). A source
// the target type cannot be built from yields the zero value of dst; an
// unknown dst returns v unchanged.
func castValue(heap *Heap, v Value, dst ValueType) Value {
	if v.Type == dst {
		return v
	}
	switch dst {
	case TypeInteger:
		return Value{Type: TypeInteger, Int: toInteger(v)}
	case TypeFloat:
		return Value{Type: TypeFloat, Float: toFloat(v)}
	case TypeString:
		return Value{Type: TypeString, Str: toText(v)}
	case TypeKey:
		return Value{Type: TypeKey, Str: toText(v)}
	case TypeVector:
		return Value{Type: TypeVector, Vec: toVector(v)}
	case TypeQuaternion:
		return Value{Type: TypeQuaternion, Quat: toQuaternion(v)}
	case TypeList:
		return Value{Type: TypeList, List: []Value{v}}
	}
	return v
}

// toInteger implements string->integer's "0x..." hex acceptance alongside
// plain decimal parsing; non-numeric input yields 0, matching the
// original's best-effort atoi behavior.
func toInteger(v Value) int32 {
	switch v.Type {
	case TypeInteger:
		return v.Int
	case TypeFloat:
		return int32(v.Float)
	case TypeString, TypeKey:
		s := strings.TrimSpace(v.Str)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, err := strconv.ParseInt(s[2:], 16, 64)
			if err != nil {
				return 0
			}
			return int32(n)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		return int32(n)
	case TypeList:
		return int32(len(v.List))
	}
	return 0
}

func toFloat(v Value) float32 {
	switch v.Type {
	case TypeInteger:
		return float32(v.Int)
	case TypeFloat:
		return v.Float
	case TypeString, TypeKey:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 32)
		if err != nil {
			return 0
		}
		return float32(f)
	}
	return 0
}

// toText implements every ->string/key conversion, including the
// list->string rule that concatenates element text with no separator
// (confirmed against lscript_execute.cpp; see DESIGN.md).
func toText(v Value) string {
	switch v.Type {
	case TypeString, TypeKey:
		return v.Str
	case TypeList:
		return formatElement(v)
	default:
		return formatElement(v)
	}
}

// toVector parses the textual "<f, f, f>" form (string/key source) or
// passes vectors through unchanged; unsupported sources yield the zero
// vector.
func toVector(v Value) [3]float32 {
	if v.Type == TypeVector {
		return v.Vec
	}
	if v.Type == TypeString || v.Type == TypeKey {
		parts := parseAngleBracketFloats(v.Str)
		if len(parts) == 3 {
			return [3]float32{parts[0], parts[1], parts[2]}
		}
	}
	return [3]float32{}
}

func toQuaternion(v Value) [4]float32 {
	if v.Type == TypeQuaternion {
		return v.Quat
	}
	if v.Type == TypeString || v.Type == TypeKey {
		parts := parseAngleBracketFloats(v.Str)
		if len(parts) == 4 {
			return [4]float32{parts[0], parts[1], parts[2], parts[3]}
		}
	}
	return [4]float32{}
}

func parseAngleBracketFloats(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	fields := strings.Split(s, ",")
	out := make([]float32, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(n))
	}
	return out
}
