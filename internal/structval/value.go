// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package structval implements the JSON-like value model used for node
// configuration overrides and effective configurations. Maps preserve key
// insertion order so that merge results and audit payloads are stable.
package structval

import (
	"encoding/json"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over null, bool, number, string, ordered list,
// and ordered key map. The zero Value is null.
type Value struct {
	kind    Kind
	boolVal bool
	numVal  json.Number
	strVal  string
	listVal []Value
	mapKeys []string
	mapVals map[string]Value
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

func Int(i int64) Value {
	return Value{kind: KindNumber, numVal: json.Number(strconv.FormatInt(i, 10))}
}

func Float(f float64) Value {
	return Value{kind: KindNumber, numVal: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

func Number(n json.Number) Value { return Value{kind: KindNumber, numVal: n} }

func String(s string) Value { return Value{kind: KindString, strVal: s} }

func List(items ...Value) Value {
	return Value{kind: KindList, listVal: items}
}

// NewMap returns an empty ordered map value. Use Set to populate it.
func NewMap() Value {
	return Value{kind: KindMap, mapVals: map[string]Value{}}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsMap() bool { return v.kind == KindMap }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolVal, true
}

func (v Value) AsNumber() (json.Number, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.numVal, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.strVal, true
}

// Items returns the list elements. The returned slice must not be mutated.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.listVal
}

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.mapKeys))
	copy(out, v.mapKeys)
	return out
}

func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.mapVals[key]
	return val, ok
}

// Set adds or replaces a map entry, preserving first-insertion key order.
// It panics if v is not a map; callers construct maps via NewMap.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindMap {
		panic("structval: Set on non-map value")
	}
	if v.mapVals == nil {
		v.mapVals = map[string]Value{}
	}
	if _, exists := v.mapVals[key]; !exists {
		v.mapKeys = append(v.mapKeys, key)
	}
	v.mapVals[key] = val
}

func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.listVal)
	case KindMap:
		return len(v.mapKeys)
	default:
		return 0
	}
}

// Clone returns a deep copy. Lists and maps are copied recursively so the
// result shares no mutable state with the receiver.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.listVal))
		for i, item := range v.listVal {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, listVal: items}
	case KindMap:
		out := NewMap()
		for _, k := range v.mapKeys {
			out.Set(k, v.mapVals[k].Clone())
		}
		return out
	default:
		return v
	}
}

// Equal reports deep structural equality. Map key order is not significant
// for equality; numbers compare by numeric value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolVal == o.boolVal
	case KindNumber:
		if v.numVal == o.numVal {
			return true
		}
		a, errA := v.numVal.Float64()
		b, errB := o.numVal.Float64()
		return errA == nil && errB == nil && a == b
	case KindString:
		return v.strVal == o.strVal
	case KindList:
		if len(v.listVal) != len(o.listVal) {
			return false
		}
		for i := range v.listVal {
			if !v.listVal[i].Equal(o.listVal[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mapKeys) != len(o.mapKeys) {
			return false
		}
		for k, val := range v.mapVals {
			other, ok := o.mapVals[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
