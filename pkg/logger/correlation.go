package logger

import "context"

const (
	// CorrelationHeader es la cabecera HTTP y de Kafka que transporta el id.
	CorrelationHeader = "X-Correlation-Id"
	// CorrelationField es la clave con la que aparece en cada línea de log.
	CorrelationField = "correlationId"
)

type correlationKey struct{}

// WithCorrelationID guarda el id en el contexto. Un id vacío no modifica ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID recupera el id del contexto, o "" si no hay.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
