package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/content-fanout/pkg/logger"
	"github.com/d60-Lab/content-fanout/pkg/tracing"
)

// ErrInvalidPayload 负载无法解码或校验失败；重投也不会成功
var ErrInvalidPayload = errors.New("invalid event payload")

var validate = validator.New()

type HandlerFunc func(ctx context.Context, e Envelope) error

// Registry 事件类型到处理器列表的映射；同一类型的多个处理器全部执行
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type][]HandlerFunc
	ledger   Ledger
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type][]HandlerFunc)}
}

// WithLedger 启用按处理器记录完成状态。处理器以 "<type>#<序号>" 标识，
// 序号即注册顺序，各实例的注册顺序必须一致。
func (r *Registry) WithLedger(l Ledger) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = l
	return r
}

func (r *Registry) On(t Type, hs ...HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], hs...)
}

func (r *Registry) Handlers(t Type) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HandlerFunc(nil), r.handlers[t]...)
}

// Dispatch 依次执行全部处理器；任一失败不影响其余处理器，错误合并返回。
// 配置了 Ledger 时，同一事件 id 下已成功的处理器在重投时不再执行。
func (r *Registry) Dispatch(ctx context.Context, e Envelope) error {
	hs := r.Handlers(e.Type)
	r.mu.RLock()
	ledger := r.ledger
	r.mu.RUnlock()
	if e.ID == "" {
		ledger = nil
	}
	if len(hs) == 0 {
		logger.Debug("no handler for event", zap.String("type", string(e.Type)), zap.String("event_id", e.ID))
		return nil
	}

	ctx, span := tracing.Start(ctx, "event.dispatch",
		attribute.String("event.type", string(e.Type)),
		attribute.String("event.id", e.ID),
		attribute.Int("event.handlers", len(hs)),
	)
	defer span.End()

	var errs []error
	for i, h := range hs {
		name := fmt.Sprintf("%s#%d", e.Type, i)
		if ledger != nil {
			done, err := ledger.Done(ctx, e.ID, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("check %s: %w", name, err))
				continue
			}
			if done {
				logger.Debug("handler already applied", zap.String("handler", name), zap.String("event_id", e.ID))
				continue
			}
		}
		if err := h(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("handler #%d for %s: %w", i, e.Type, err))
			continue
		}
		if ledger != nil {
			if err := ledger.Mark(ctx, e.ID, name); err != nil {
				logger.Warn("mark handler done", zap.String("handler", name), zap.String("event_id", e.ID), zap.Error(err))
			}
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Typed 把强类型处理函数包装成 HandlerFunc：解码 + 校验负载
func Typed[T any](fn func(ctx context.Context, payload T) error) HandlerFunc {
	return func(ctx context.Context, e Envelope) error {
		var p T
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, e.Type, err)
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
		}
		return fn(ctx, p)
	}
}
