// Package reflector derives stable names for payload types.
package reflector

import (
	"path"
	"reflect"
	"sync"
)

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	// Name is the fully qualified name, "pkg/path.TypeName".
	Name string
	// ShortName is the last package path element and the type name, "pkg.TypeName".
	ShortName string
	Type      reflect.Type
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType unwraps pointers, so T and *T share one TypeInfo.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{
		Name:      t.PkgPath() + "." + t.Name(),
		ShortName: path.Base(t.PkgPath()) + "." + t.Name(),
		Type:      t,
	}
	if t.PkgPath() == "" {
		ti.Name, ti.ShortName = t.String(), t.String()
	}

	muCache.Lock()
	cache[t] = ti
	muCache.Unlock()
	return ti
}
