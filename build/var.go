package build

import "reflect"

// A Var holds one value per Release. Protocol constants whose values differ
// between release builds (timing, retry budgets) are declared as Vars in the
// types package. No field may be nil and all fields must share one type.
type Var struct {
	Standard interface{}
	Dev      interface{}
	Testing  interface{}
	// prevent unkeyed literals
	_ struct{}
}

// Select returns the field of v matching the current Release. Callers type-
// assert the result, and type assertions require assignability, so every
// field of the Var must be cast to the asserted type at the declaration
// (an untyped 0 arrives as int, which does not assert to a named int type).
func Select(v Var) interface{} {
	if v.Standard == nil || v.Dev == nil || v.Testing == nil {
		panic("nil value in build variable")
	}
	st, dt, tt := reflect.TypeOf(v.Standard), reflect.TypeOf(v.Dev), reflect.TypeOf(v.Testing)
	if !dt.AssignableTo(st) || !tt.AssignableTo(st) {
		// AssignableTo rather than ConvertibleTo: assertions need the former.
		panic("build variables must have a single type")
	}
	switch Release {
	case "standard":
		return v.Standard
	case "dev":
		return v.Dev
	case "testing":
		return v.Testing
	default:
		panic("unrecognized Release: " + Release)
	}
}
