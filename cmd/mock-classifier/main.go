package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/typegauge/typegauge/pkg/mockclassify"
)

func main() {
	addr := defaultString("MOCK_CLASSIFIER_ADDR", ":8081")
	token := defaultString("MOCK_CLASSIFIER_TOKEN", "")

	fs := flag.NewFlagSet("mock-classifier", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&token, "token", token, "Require this bearer token when set (env: MOCK_CLASSIFIER_TOKEN)")
	_ = fs.Parse(os.Args[1:])

	srv := mockclassify.New()
	srv.RequireBearerToken(token)

	_, _ = fmt.Fprintf(os.Stdout, "mock-classifier listening on %s\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
