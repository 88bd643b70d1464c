package config

import (
	"os"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/core/validator"
	"github.com/kochabx/sessionkeeper/errors"
)

// Loader fills a target struct and reports later changes.
type Loader interface {
	Load(target any) error
	Watch(onChange func()) error
}

// FileLoader reads a YAML/JSON/TOML file through viper. Environment variables
// override file values: the key provider.client_secret is read from
// PROVIDER_CLIENT_SECRET.
type FileLoader struct {
	viper    *viper.Viper
	validate *validator.Validator
	file     string
}

func NewFileLoader(file string, v *viper.Viper, validate *validator.Validator) *FileLoader {
	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &FileLoader{viper: v, validate: validate, file: file}
}

func (l *FileLoader) Load(target any) error {
	if err := tag.ApplyDefaults(target); err != nil {
		return errors.ErrConfiguration.WithMessage("apply defaults").WithCause(err)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return errors.ErrConfiguration.WithMessage("read %s", l.file).WithCause(err)
		}
		// a missing file is fine as long as the environment supplies what validation needs
	}

	bindEnvs(l.viper, reflect.TypeOf(target), "")

	if err := l.viper.Unmarshal(target); err != nil {
		return errors.ErrConfiguration.WithMessage("decode %s", l.file).WithCause(err)
	}

	if l.validate != nil {
		if err := l.validate.Struct(target); err != nil {
			return errors.ErrConfiguration.WithMessage("%v", err).WithCause(err)
		}
	}
	return nil
}

func (l *FileLoader) Watch(onChange func()) error {
	l.viper.OnConfigChange(func(fsnotify.Event) {
		if onChange != nil {
			onChange()
		}
	})
	l.viper.WatchConfig()
	return nil
}

// bindEnvs registers every leaf key of t with viper. AutomaticEnv alone only
// covers keys viper already knows from the file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name := strings.ToLower(f.Name)
		if tv, ok := f.Tag.Lookup("mapstructure"); ok {
			tv, _, _ = strings.Cut(tv, ",")
			if tv == "-" {
				continue
			}
			if tv != "" {
				name = tv
			}
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			bindEnvs(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}
