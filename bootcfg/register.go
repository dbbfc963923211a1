// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootcfg

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// RegisterFlagsInStruct registers every field of the struct pointed to by
// structWithFlags that carries a tag with the given key as a flag on fs.
// The tag format is described by ParseTag.  Supported field types are
// int, uint, uint32, bool, float64, string and time.Duration; embedded
// untagged structs are descended into.
func RegisterFlagsInStruct(fs *pflag.FlagSet, tag string, structWithFlags interface{}) error {
	val := reflect.ValueOf(structWithFlags)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%T is not a pointer to a struct", structWithFlags)
	}
	val = val.Elem()
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tags, ok := field.Tag.Lookup(tag)
		if !ok {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := RegisterFlagsInStruct(fs, tag, val.Field(i).Addr().Interface()); err != nil {
					return err
				}
			}
			continue
		}
		name, literal, usage, err := ParseTag(tags)
		if err != nil {
			return fmt.Errorf("field %v: failed to parse tag %q: %v", field.Name, tags, err)
		}
		if fs.Lookup(name) != nil {
			return fmt.Errorf("flag %v already defined for this flag set", name)
		}
		usageDefault := ""
		if expanded := ExpandEnv(literal); expanded != literal {
			usageDefault = literal
			literal = expanded
		}
		if err := registerField(fs, val.Field(i).Addr().Interface(), name, literal, usage); err != nil {
			return fmt.Errorf("field: %v of type %v for flag %v: %v", field.Name, field.Type, name, err)
		}
		if len(usageDefault) > 0 {
			fs.Lookup(name).DefValue = usageDefault
		}
	}
	return nil
}

func registerField(fs *pflag.FlagSet, ptr interface{}, name, literal, usage string) error {
	switch p := ptr.(type) {
	case *int:
		v, err := parseOr(literal, 0, func(s string) (int, error) { return strconv.Atoi(s) })
		if err != nil {
			return err
		}
		fs.IntVar(p, name, v, usage)
	case *uint:
		v, err := parseOr(literal, 0, func(s string) (uint, error) {
			u, err := strconv.ParseUint(s, 10, 0)
			return uint(u), err
		})
		if err != nil {
			return err
		}
		fs.UintVar(p, name, v, usage)
	case *uint32:
		v, err := parseOr(literal, 0, func(s string) (uint32, error) {
			u, err := strconv.ParseUint(s, 10, 32)
			return uint32(u), err
		})
		if err != nil {
			return err
		}
		fs.Uint32Var(p, name, v, usage)
	case *bool:
		v, err := parseOr(literal, false, strconv.ParseBool)
		if err != nil {
			return err
		}
		fs.BoolVar(p, name, v, usage)
	case *float64:
		v, err := parseOr(literal, 0, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
		if err != nil {
			return err
		}
		fs.Float64Var(p, name, v, usage)
	case *string:
		fs.StringVar(p, name, literal, usage)
	case *time.Duration:
		v, err := parseOr(literal, 0, time.ParseDuration)
		if err != nil {
			return err
		}
		fs.DurationVar(p, name, v, usage)
	default:
		return fmt.Errorf("unsupported type %T", ptr)
	}
	return nil
}

func parseOr[T any](literal string, zero T, parse func(string) (T, error)) (T, error) {
	if len(literal) == 0 {
		return zero, nil
	}
	v, err := parse(literal)
	if err != nil {
		return zero, fmt.Errorf("failed to set initial default value: %v", err)
	}
	return v, nil
}
