package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/logger"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// startHTTP launches the control API.
func (svc *Service) startHTTP(ctx context.Context) {
	srv := &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.routes()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		slog.Info("control API listening", "addr", svc.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control API failed", "error", err)
		}
	}()
}

func (svc *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", svc.handleReload)
	mux.HandleFunc("/series", svc.handleSeries)
	mux.HandleFunc("/results", svc.handleResults)
	mux.HandleFunc("/remove", svc.handleRemove)
	if svc.health != nil {
		mux.Handle("/healthz", svc.health)
	}
	return mux
}

// handleReload handles POST /reload for live config updates via HTTP.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var newConfigs []indicator.TFIndicatorConfig
	if err := json.NewDecoder(r.Body).Decode(&newConfigs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	replayed, err := svc.reload(r.Context(), newConfigs)
	if errors.Is(err, stream.ErrParameter) {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":   status(err),
		"replayed": replayed,
		"error":    errString(err),
	})
}

// handleSeries lists the live series keys.
func (svc *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, svc.engine.Keys())
}

// handleResults serves GET /results?series=EX:TOKEN:TF[&name=SMA_20].
// Without a name it returns the latest value of every indicator.
func (svc *Service) handleResults(w http.ResponseWriter, r *http.Request) {
	exchange, token, tf, err := parseSeriesKey(r.URL.Query().Get("series"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, encodable(svc.engine.Latest(exchange, token, tf)))
		return
	}
	results, ok := svc.engine.Results(exchange, token, tf, name)
	if !ok {
		http.Error(w, "unknown series or indicator", http.StatusNotFound)
		return
	}
	writeJSON(w, encodable(results))
}

// encodable zeroes pending values, which are NaN and not valid JSON.
func encodable(results []model.IndicatorResult) []model.IndicatorResult {
	for i := range results {
		if !results[i].Ready {
			results[i].Value = 0
		}
	}
	return results
}

// handleRemove handles POST /remove with a candle body: the bar is dropped
// from its series and the store, and the rebuilt values are published.
func (svc *Service) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var c model.Candle
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	results, err := svc.pipe.remove(r.Context(), c)
	if err != nil {
		code := http.StatusConflict
		if errors.Is(err, stream.ErrInvalidOperation) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.DeleteCandle(c); err != nil {
			slog.Warn("sqlite candle delete failed", "series", c.SeriesKey(), "error", err)
		}
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "rebuilt": len(results)})
}

// startConfigSubscriber listens on Redis PubSub for indicator spec updates.
// The payload is a spec list applied to every enabled TF.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			slog.Warn("could not subscribe to config:indicators")
			return
		}
		defer pubsub.Close()
		slog.Info("subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				configs, err := BuildIndicatorConfigs(svc.cfg.EnabledTFs, msg.Payload)
				if err != nil {
					slog.Warn("ignoring invalid indicator specs", "payload", msg.Payload, "error", err)
					continue
				}
				svc.reload(ctx, configs)
			}
		}
	}()
}

// reload swaps the engine configs and republishes the latest value of
// every series so indicators added by the reload show up immediately.
func (svc *Service) reload(ctx context.Context, configs []indicator.TFIndicatorConfig) (int, error) {
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	replayed, err := svc.engine.Reload(configs)
	if errors.Is(err, stream.ErrParameter) {
		slog.Warn("config reload rejected", append(logger.LogWithTrace(ctx), "error", err)...)
		return 0, err
	}
	if err != nil {
		slog.Warn("config reload replay incomplete", append(logger.LogWithTrace(ctx), "error", err)...)
	}
	if svc.prom != nil {
		svc.prom.ConfigReloads.Inc()
	}

	for _, key := range svc.engine.Keys() {
		exchange, token, tf, perr := parseSeriesKey(key)
		if perr != nil {
			continue
		}
		if latest := svc.engine.Latest(exchange, token, tf); len(latest) > 0 {
			svc.pipe.publisher.WriteIndicatorBatch(ctx, latest)
		}
	}
	slog.Info("config reload applied", append(logger.LogWithTrace(ctx), "series", replayed)...)
	return replayed, err
}

// parseSeriesKey splits "exchange:token:tf".
func parseSeriesKey(key string) (exchange, token string, tf int, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, errors.New("series must be EXCHANGE:TOKEN:TF")
	}
	tf, err = strconv.Atoi(parts[2])
	if err != nil || tf <= 0 {
		return "", "", 0, errors.New("series timeframe must be a positive integer")
	}
	return parts[0], parts[1], tf, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func status(err error) string {
	if err != nil {
		return "partial"
	}
	return "ok"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
