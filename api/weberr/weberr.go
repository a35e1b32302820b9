// Package weberr decorates errors with what the HTTP layer needs to answer
// and log them: a response body with its status code, and log fields.
package weberr

import "errors"

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

type decorated struct {
	error
	body   interface{}
	status int
	fields map[string]interface{}
}

func (d *decorated) Unwrap() error { return d.error }

func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &decorated{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &decorated{error: err, fields: fields}
	}
}

// Response returns the outermost response attached anywhere in err's chain.
func Response(err error) (body interface{}, status int, ok bool) {
	for ; err != nil; err = errors.Unwrap(err) {
		if d, isDec := err.(*decorated); isDec && d.status != 0 {
			return d.body, d.status, true
		}
	}
	return nil, 0, false
}

// Fields merges the log fields found along err's chain. Outer values win.
func Fields(err error) (map[string]interface{}, bool) {
	var out map[string]interface{}
	for ; err != nil; err = errors.Unwrap(err) {
		d, isDec := err.(*decorated)
		if !isDec || d.fields == nil {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(d.fields))
		}
		for k, v := range d.fields {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, out != nil
}
