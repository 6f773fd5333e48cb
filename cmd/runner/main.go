// Command runner wires a small example system — orders fanning out to both
// fulfillment and billing — and exposes a debug HTTP surface for poking at
// it by hand during development.
package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/kurbisio-runner/core/csql"
	"github.com/relabs-tech/kurbisio-runner/core/logger"
	"github.com/relabs-tech/kurbisio-runner/runner"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/process/baseapp"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
	"github.com/relabs-tech/kurbisio-runner/runner/store/postgres"
)

// Config is the example binary's environment, following services/basic's
// envdecode.Decode pattern.
type Config struct {
	Postgres     string        `env:"POSTGRES,required" description:"connection string for the Postgres DB"`
	Schema       string        `env:"SCHEMA,optional,default=runner_example" description:"schema to create the runner's tables in"`
	PollInterval time.Duration `env:"POLL_INTERVAL,optional,default=150ms" description:"puller poll interval"`
	Addr         string        `env:"ADDR,optional,default=:3001" description:"debug HTTP server listen address"`
}

type orderPlaced struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func main() {
	cfg := Config{}
	if err := envdecode.Decode(&cfg); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(cfg.Postgres, "", cfg.Schema)
	defer db.Close()

	st := postgres.New(db)

	system := runner.System{
		Processes: []runner.ProcessDef{
			{
				Name: "orders",
				Factory: func(pipeline int, st store.Store) process.Application {
					app := baseapp.New("orders", pipeline, st, func(ctx context.Context, upstream string, e process.Event) ([]process.Event, error) {
						return nil, nil // orders has no upstream; nothing to react to
					})
					app.Handle("place_order", placeOrderHandler(app))
					return app
				},
			},
			{
				Name:     "fulfillment",
				Upstream: []string{"orders"},
				Factory: func(pipeline int, st store.Store) process.Application {
					return baseapp.New("fulfillment", pipeline, st, func(ctx context.Context, upstream string, e process.Event) ([]process.Event, error) {
						logger.Default().WithField("topic", e.Topic).Info("fulfillment processing order")
						return []process.Event{{Topic: "shipment_created", Payload: e.Payload, Notifiable: false}}, nil
					})
				},
			},
			{
				Name:     "billing",
				Upstream: []string{"orders"},
				Factory: func(pipeline int, st store.Store) process.Application {
					return baseapp.New("billing", pipeline, st, func(ctx context.Context, upstream string, e process.Event) ([]process.Event, error) {
						logger.Default().WithField("topic", e.Topic).Info("billing processing order")
						return []process.Event{{Topic: "invoice_issued", Payload: e.Payload, Notifiable: false}}, nil
					})
				},
			},
		},
	}

	r := runner.MustNew(&runner.Builder{
		System:            system,
		PipelineIDs:       []int{1},
		Store:             st,
		PollInterval:      cfg.PollInterval,
		SetupTables:       true,
		MetricsRegisterer: prometheus.DefaultRegisterer,
	})
	defer r.Close()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/orders", placeOrderRoute(r)).Methods(http.MethodPost)
	router.HandleFunc("/call/{process}/{pipeline}/{method}", callRoute(r)).Methods(http.MethodPost)

	logger.Default().Infoln("listening on", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		panic(err)
	}
}

// placeOrderHandler implements orders' "place_order" call: append a
// notifiable order-placed event directly, with no upstream to process —
// orders is the graph's sole ingestion point. Appending through app
// (rather than straight to store.Store) fires the prompt callback wired
// up at Init, so fulfillment and billing's Pullers hear about the new
// order the same way any downstream does after an EventProcessor commit.
func placeOrderHandler(app *baseapp.App) baseapp.Handler {
	return func(ctx context.Context, args []interface{}) (interface{}, error) {
		payload, _ := args[0].([]byte)
		return app.AppendEvents(ctx, []process.Event{
			{Topic: "order_placed", Payload: payload, Notifiable: true},
		})
	}
}

func placeOrderRoute(r *runner.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var order orderPlaced
		if err := json.NewDecoder(req.Body).Decode(&order); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if order.OrderID == "" {
			order.OrderID = uuid.NewString()
		}
		payload, err := json.Marshal(order)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		ctx := req.Context()
		if _, err := r.Call(ctx, "orders", 1, "place_order", payload); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, order.OrderID)
	}
}

func callRoute(r *runner.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		pipeline, err := strconv.Atoi(vars["pipeline"])
		if err != nil {
			http.Error(w, "invalid pipeline id", http.StatusBadRequest)
			return
		}

		var args []interface{}
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&args); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		value, err := r.Call(req.Context(), vars["process"], pipeline, vars["method"], args...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(value)
	}
}
