package main

import (
	"fmt"
	"time"

	"github.com/user/rowwatch"
	"github.com/user/rowwatch/internal/api"
	"github.com/user/rowwatch/internal/config"
	"github.com/user/rowwatch/internal/sse"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
	"github.com/user/rowwatch/pkg/sink/fanout"
	"github.com/user/rowwatch/pkg/sink/file"
	"github.com/user/rowwatch/pkg/sink/http"
	"github.com/user/rowwatch/pkg/sink/nats"
	"github.com/user/rowwatch/pkg/sink/redis"
	ssesink "github.com/user/rowwatch/pkg/sink/sse"
	"github.com/user/rowwatch/pkg/sink/stdout"
)

func newFormatter(format string) rowwatch.Formatter {
	f := jsonfmt.NewJSONFormatter()
	if format != "" {
		f.SetMode(jsonfmt.JSONMode(format))
	}
	return f
}

func newSink(sc config.SinkConfig, hub *sse.Hub, stream string) (rowwatch.Sink, error) {
	formatter := newFormatter(sc.Format)
	switch sc.Type {
	case "stdout":
		return stdout.NewStdoutSink(formatter), nil
	case "file":
		return file.NewFileSink(sc.Path, formatter)
	case "http":
		return http.NewHttpSink(sc.URL, formatter, sc.Headers), nil
	case "redis":
		return redis.NewRedisSink(redis.Options{
			Addr:     sc.Addr,
			Password: sc.Password,
			DB:       sc.DB,
			Stream:   sc.Stream,
			MaxLen:   sc.MaxLen,
		}, formatter)
	case "nats":
		return nats.NewNatsSink(nats.Options{
			URL:       sc.URL,
			Subject:   sc.Subject,
			Username:  sc.Username,
			Password:  sc.Password,
			Token:     sc.Token,
			JetStream: sc.JetStream,
			PerKind:   sc.PerKind,
		}, formatter)
	case "sse":
		return ssesink.NewSSESink(hub, stream, formatter), nil
	}
	return nil, fmt.Errorf("unknown sink type %q", sc.Type)
}

// buildSinks assembles every configured sink behind one fanout and returns
// the per-sink readiness checks.
func buildSinks(cfg *config.Config, hub *sse.Hub, stream string, logger rowwatch.Logger) (*fanout.FanoutSink, map[string]api.Pinger, error) {
	targets := make([]fanout.Target, 0, len(cfg.Sinks))
	ready := make(map[string]api.Pinger, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		s, err := newSink(sc, hub, stream)
		if err != nil {
			for _, t := range targets {
				_ = t.Sink.Close()
			}
			return nil, nil, fmt.Errorf("sink %s: %w", sc.DisplayName(), err)
		}
		kinds := make([]rowwatch.EventKind, len(sc.Kinds))
		for i, k := range sc.Kinds {
			kinds[i] = rowwatch.EventKind(k)
		}
		name := sc.DisplayName()
		for i := 2; ready["sink:"+name] != nil; i++ {
			name = fmt.Sprintf("%s-%d", sc.DisplayName(), i)
		}
		targets = append(targets, fanout.Target{Name: name, Sink: s, Kinds: kinds})
		ready["sink:"+name] = s
	}

	out := fanout.NewFanoutSink(targets, cfg.Delivery.MaxAttempts, time.Duration(cfg.Delivery.RetryIntervalMS)*time.Millisecond)
	out.SetLogger(logger)
	return out, ready, nil
}
