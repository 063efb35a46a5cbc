// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/gotranspose/pkg/core/plan"
	"github.com/gomlx/gotranspose/pkg/support/fsutil"
	"github.com/gomlx/gotranspose/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ParseModelSettings updates params from settings, typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "DRAMLatency=600;MaxMWP=32;...".
//
// The names are the fields of plan.ModelParams, and the values are parsed to the type of the field.
// For integer fields, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting like "file:settings.txt" reads the settings from the file, with new-lines working as ";" and
// lines starting with "#" ignored.
//
// It returns the names of the parameters set, in order, and an error if a name is unknown or a value
// can't be parsed.
//
// Example usage:
//
//	func main() {
//		params := plan.DefaultModelParams(backends.FamilyCUDA)
//		settings := commandline.CreateModelSettingsFlag(params, "")
//		flag.Parse()
//		_, err := commandline.ParseModelSettings(&params, *settings)
//		if err != nil { panic(err) }
//		fmt.Println(commandline.SprintModelSettings(params))
//		...
//	}
func ParseModelSettings(params *plan.ModelParams, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseModelSetting(params, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseModelSetting(params *plan.ModelParams, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read model settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseModelSetting(params, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse model setting %q: each setting requires the format \"<param>=<value>\"",
			setting)
		return
	}
	name, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	field := reflect.ValueOf(params).Elem().FieldByName(name)
	if !field.IsValid() || !field.CanSet() {
		err = errors.Errorf("unknown model parameter %q, known parameters: %s", name,
			strings.Join(modelParamNames(), ", "))
		return
	}

	switch field.Kind() {
	case reflect.Int:
		var v int
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		if err == nil {
			field.SetInt(int64(v))
		}
	case reflect.Float64:
		var v float64
		err = json.Unmarshal([]byte(valueStr), &v)
		if err == nil {
			field.SetFloat(v)
		}
	default:
		err = fmt.Errorf("don't know how to parse type %s for model parameter %q", field.Type(), name)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for model parameter %q (current value is %v)", valueStr,
			name, field.Interface())
		return
	}
	newParamsSet = append(newParamsSet, name)
	return
}

// modelParamNames returns the settable fields of plan.ModelParams.
func modelParamNames() []string {
	t := reflect.TypeOf(plan.ModelParams{})
	fields := make([]reflect.StructField, t.NumField())
	for i := range fields {
		fields[i] = t.Field(i)
	}
	return xslices.Map(fields, func(f reflect.StructField) string { return f.Name })
}

// CreateModelSettingsFlag creates a string flag with the given flagName (if empty it will be named "model")
// and with a description of the parameters of the performance model and their values in params.
//
// The flag should be created before the call to `flags.Parse()`.
func CreateModelSettingsFlag(params plan.ModelParams, flagName string) *string {
	if flagName == "" {
		flagName = "model"
	}
	usage := `Set parameters of the performance model. ` +
		`It should be a list of elements "param=value" separated by ";". ` +
		`It can also be given an entry like: "file:settings_file.txt", in ` +
		`which case the file will be read and the settings will be parsed, ` +
		`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
		"Parameters and their default values for the device family:\n" + SprintModelSettings(params)
	var settings string
	flag.StringVar(&settings, flagName, "", usage)
	return &settings
}

// SprintModelSettings pretty-prints the values of the model parameters, one per line.
func SprintModelSettings(params plan.ModelParams) string {
	v := reflect.ValueOf(params)
	parts := make([]string, 0, v.NumField())
	for i := range v.NumField() {
		parts = append(parts, fmt.Sprintf("\t%q: (%s) %v", v.Type().Field(i).Name, v.Field(i).Type(),
			v.Field(i).Interface()))
	}
	return strings.Join(parts, "\n")
}

// SprintModifiedModelSettings pretty-prints only the parameters in paramsSet (as returned by ParseModelSettings),
// sorted and without duplicates.
func SprintModifiedModelSettings(params plan.ModelParams, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	v := reflect.ValueOf(params)
	parts := make([]string, 0, len(paramsSet))
	for _, name := range paramsSet {
		field := v.FieldByName(name)
		if !field.IsValid() {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%s) %v", name, field.Type(), field.Interface()))
	}
	return strings.Join(parts, "\n")
}
