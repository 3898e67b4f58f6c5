package dewdrop

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

// maxPluginWorkers bounds concurrency when fanning flush and shutdown out to
// plugins.
const maxPluginWorkers = 4

// pipeline runs plugin hooks in registration order. Hooks execute
// synchronously on the calling chain; a panicking plugin is isolated and
// never blocks later plugins or delivery.
type pipeline struct {
	plugins []telemetry.Plugin
	logger  *zap.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

func newPipeline(plugins []telemetry.Plugin, logger *zap.Logger) *pipeline {
	return &pipeline{plugins: plugins, logger: logger}
}

func (p *pipeline) interactionStart(i *telemetry.Interaction) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(telemetry.InteractionStartHook); ok {
			p.invoke(plugin.Name(), "interaction_start", func() { hook.OnInteractionStart(i) })
		}
	}
}

func (p *pipeline) interactionEnd(i *telemetry.Interaction) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(telemetry.InteractionEndHook); ok {
			p.invoke(plugin.Name(), "interaction_end", func() { hook.OnInteractionEnd(i) })
		}
	}
}

func (p *pipeline) span(s *telemetry.Span) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(telemetry.SpanHook); ok {
			p.invoke(plugin.Name(), "span", func() { hook.OnSpan(s) })
		}
	}
}

func (p *pipeline) trace(t *telemetry.Trace) {
	for _, plugin := range p.plugins {
		if hook, ok := plugin.(telemetry.TraceHook); ok {
			p.invoke(plugin.Name(), "trace", func() { hook.OnTrace(t) })
		}
	}
}

// invoke runs one hook with panic isolation.
func (p *pipeline) invoke(name, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("plugin hook panicked",
				zap.String("plugin", name),
				zap.String("hook", hook),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// flush fans Flush out to every buffering plugin through a bounded worker
// pool and waits for all of them or the context, whichever ends first.
func (p *pipeline) flush(ctx context.Context) error {
	return p.fanOut(ctx, "flush", func(plugin telemetry.Plugin) (func(context.Context) error, bool) {
		f, ok := plugin.(telemetry.Flusher)
		if !ok {
			return nil, false
		}
		return f.Flush, true
	})
}

// shutdown releases plugin resources after the final flush. Idempotent.
func (p *pipeline) shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.fanOut(ctx, "shutdown", func(plugin telemetry.Plugin) (func(context.Context) error, bool) {
			s, ok := plugin.(telemetry.Shutdowner)
			if !ok {
				return nil, false
			}
			return s.Shutdown, true
		})
	})
	return p.shutdownErr
}

func (p *pipeline) fanOut(ctx context.Context, op string, pick func(telemetry.Plugin) (func(context.Context) error, bool)) error {
	sem := make(chan struct{}, maxPluginWorkers)
	errCh := make(chan error, len(p.plugins))

	var wg sync.WaitGroup
	for _, plugin := range p.plugins {
		fn, ok := pick(plugin)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("plugin panicked",
						zap.String("plugin", name),
						zap.String("op", op),
						zap.Any("panic", r))
				}
			}()

			if err := fn(ctx); err != nil {
				p.logger.Warn("plugin operation failed",
					zap.String("plugin", name),
					zap.String("op", op),
					zap.Error(err))
				errCh <- err
			}
		}(plugin.Name(), fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
