// Package policy holds the mutable upload policy consulted by the transfer
// pipeline. The limit is read on every upload without blocking in-flight
// transfers; a change only affects transfers that start afterwards.
package policy

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

var ErrOutOfRange = errors.New("upload limit out of range")

type UploadPolicy struct {
	maxBytes atomic.Int64
	min      int64
	max      int64
}

func NewUploadPolicy(initial, min, max int64) (*UploadPolicy, error) {
	p := &UploadPolicy{min: min, max: max}
	if err := p.Set(initial); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *UploadPolicy) Get() int64 {
	return p.maxBytes.Load()
}

// Set validates the new limit against the configured bounds. On rejection the
// previous value stays in effect.
func (p *UploadPolicy) Set(newMax int64) error {
	if newMax < p.min || newMax > p.max {
		return fmt.Errorf("%w: must be between %s and %s",
			ErrOutOfRange, humanize.IBytes(uint64(p.min)), humanize.IBytes(uint64(p.max)))
	}
	p.maxBytes.Store(newMax)
	return nil
}

func (p *UploadPolicy) Bounds() (min, max int64) {
	return p.min, p.max
}
