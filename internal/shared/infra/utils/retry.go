package utils

import (
	"context"
	"time"
)

// Retry ejecuta fn hasta attempts veces con una espera fija entre intentos.
// shouldRetry nil reintenta cualquier error; si devuelve false el error sale tal cual.
// Tras el último intento no se espera.
func Retry(ctx context.Context, attempts int, delay time.Duration, shouldRetry func(error) bool, fn func() error) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case attempt >= attempts:
			return err
		case shouldRetry != nil && !shouldRetry(err):
			return err
		}

		timer.Reset(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
