package sfu

import (
	"encoding/json"
	"reflect"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/pion/randutil"
)

var rnd = randutil.NewMathRandomGenerator()

type ptrTransformers struct{}

// overwrites pointer type
func (ptrTransformers) Transformer(tp reflect.Type) func(dst, src reflect.Value) error {
	if tp.Kind() == reflect.Ptr {
		return func(dst, src reflect.Value) error {
			if !src.IsNil() {
				if dst.CanSet() {
					dst.Set(src)
				} else {
					dst = src
				}
			}
			return nil
		}
	}
	return nil
}

// generateSsrc draws a candidate SSRC outside the reserved low range.
func generateSsrc() uint32 {
	return uint32(rnd.Intn(900000000)) + 100000000
}

// generateCname builds a random RTCP CNAME for receivers that did not
// provide one.
func generateCname() string {
	return uuid.NewString()[:8]
}

func clone(from, to interface{}) (err error) {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}

func override(dst, src interface{}) error {
	return mergo.Merge(dst, src,
		mergo.WithOverride,
		mergo.WithTypeCheck,
		mergo.WithTransformers(ptrTransformers{}),
	)
}

func Bool(b bool) *bool {
	return &b
}
