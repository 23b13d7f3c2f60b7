/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mempool

import (
	"fmt"
	"reflect"
)

// checkElem returns an error wrapping ErrPointerType if values of T may hold
// references GC has to follow. Blocks are never scanned, so such references
// would not keep their target alive.
//
// A *T nested in T is allowed: it links slots of the same pool, whose blocks
// are kept alive by the pool itself.
func checkElem[T any]() error {
	self := reflect.TypeOf((*T)(nil)).Elem()
	if path, ok := findPointer(self, self, self.String()); ok {
		return fmt.Errorf("%w: %s holds %s", ErrPointerType, self, path)
	}
	return nil
}

// findPointer walks t and returns the path to the first field that may hold
// a GC visible pointer.
func findPointer(t, self reflect.Type, path string) (string, bool) {
	switch t.Kind() {
	case reflect.Pointer:
		if t.Elem() == self {
			return "", false
		}
		return path + " (" + t.String() + ")", true
	case reflect.UnsafePointer, reflect.String, reflect.Slice, reflect.Map,
		reflect.Chan, reflect.Func, reflect.Interface:
		return path + " (" + t.String() + ")", true
	case reflect.Array:
		if t.Len() == 0 {
			return "", false
		}
		return findPointer(t.Elem(), self, path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if p, ok := findPointer(f.Type, self, path+"."+f.Name); ok {
				return p, true
			}
		}
	}
	return "", false
}
