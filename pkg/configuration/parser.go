// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package configuration

import (
	"reflect"

	envldr "github.com/SENERGY-Platform/go-env-loader"
)

func GetTypeParser() map[reflect.Type]envldr.Parser {
	return map[reflect.Type]envldr.Parser{
		reflect.TypeFor[KeyVectorSpec](): keyVectorSpecParser,
	}
}

func keyVectorSpecParser(_ reflect.Type, val string, _ []string, _ map[string]string) (interface{}, error) {
	return KeyVectorSpec(val), nil
}
