package cache

import "context"

// Cache es la caché de lecturas del consumidor (Redis o memoria).
// Los valores viajan serializados en JSON, así que dest debe ser un puntero.
type Cache interface {
	// Get devuelve (false, nil) en un miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set guarda val durante ttlSecs segundos; 0 usa el TTL por defecto de la implementación.
	Set(ctx context.Context, key string, val any, ttlSecs int) error

	Delete(ctx context.Context, key string) error
}
