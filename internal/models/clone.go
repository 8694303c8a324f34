package models

import "reflect"

// CloneMap returns a deep copy of m. Nested maps, slices and arrays are
// copied; pointers and other values are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = cloneValue(reflect.ValueOf(v)).Interface()
	}
	return out
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the state
func (s OperationState) Clone() OperationState {
	s.Result = CloneMap(s.Result)
	return s
}

// Clone returns a deep copy of the operation
func (op *Operation) Clone() *Operation {
	clone := *op
	clone.CurrentResult = op.CurrentResult.Clone()
	return &clone
}

// Clone returns a deep copy of the discovery
func (d *Discovery) Clone() *Discovery {
	clone := *d
	clone.Result = CloneMap(d.Result)
	clone.VerificationData.Details = CloneMap(d.VerificationData.Details)
	if d.VerificationScore != nil {
		score := *d.VerificationScore
		clone.VerificationScore = &score
	}
	return &clone
}
