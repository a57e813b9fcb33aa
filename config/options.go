// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// LookupEnvFunc looks up an environment variable, like os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

type options struct {
	withEnvFiles  []string
	withLookupEnv LookupEnvFunc
	envFilesSet   bool
}

func getOpts(opt ...Option) options {
	opts := options{
		withEnvFiles:  []string{DefaultEnvFile},
		withLookupEnv: os.LookupEnv,
	}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvFiles overrides the .env files read. Unlike the default file, the
// files given must exist. Variables of the process environment take
// precedence over the files, and earlier files over later ones.
func WithEnvFiles(files ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvFiles = files
			o.envFilesSet = true
		}
	}
}

// WithLookupEnv overrides os.LookupEnv for the process environment.
func WithLookupEnv(fn LookupEnvFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withLookupEnv = fn
		}
	}
}

// lookup combines the process environment with the .env files.
func (o options) lookup() (LookupEnvFunc, error) {
	dotenv := map[string]string{}
	for _, f := range o.withEnvFiles {
		vars, err := godotenv.Read(f)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !o.envFilesSet:
			continue
		case err != nil:
			return nil, fmt.Errorf("unable to read env file %s: %w", f, err)
		}
		for k, v := range vars {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := o.withLookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}
