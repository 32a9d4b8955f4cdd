package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/llmcall"
	"github.com/jackzampolin/labscan/internal/svcctx"
)

// LLMCallsResponse contains a list of LLM calls.
type LLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Total int            `json:"total"`
}

// LLMCallResponse contains a single LLM call.
type LLMCallResponse struct {
	Call  *llmcall.Call `json:"call,omitempty"`
	Error string        `json:"error,omitempty"`
}

// LLMCallCountsResponse contains call counts by outcome.
type LLMCallCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ListLLMCallsEndpoint handles GET /api/llmcalls.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List LLM calls
//	@Description	Get LLM call history with optional filters
//	@Tags			llmcalls
//	@Produce		json
//	@Param			request_id	query		string	false	"Filter by extraction request ID"
//	@Param			sha256		query		string	false	"Filter by document SHA-256"
//	@Param			outcome		query		string	false	"Filter by parse outcome"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			model		query		string	false	"Filter by model"
//	@Param			success		query		bool	false	"Filter by success status (true or false)"
//	@Param			limit		query		int		false	"Max results (default 100)"
//	@Param			offset		query		int		false	"Result offset"
//	@Param			after		query		string	false	"Filter calls after this RFC3339 timestamp"
//	@Param			before		query		string	false	"Filter calls before this RFC3339 timestamp"
//	@Success		200			{object}	LLMCallsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/llmcalls [get]
func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	filter, err := parseCallFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	calls := store.List(filter)
	writeJSON(w, http.StatusOK, LLMCallsResponse{
		Calls: calls,
		Total: len(calls),
	})
}

const defaultCallLimit = 100

// parseCallFilter reads the list filters from query parameters.
func parseCallFilter(q url.Values) (llmcall.QueryFilter, error) {
	filter := llmcall.QueryFilter{
		RequestID:   q.Get("request_id"),
		DocumentSHA: q.Get("sha256"),
		Provider:    q.Get("provider"),
		Model:       q.Get("model"),
		Outcome:     q.Get("outcome"),
		Limit:       defaultCallLimit,
	}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid success filter: %q must be true or false", v)
		}
		filter.Success = &b
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid %s: %q must be a non-negative integer", name, v)
		}
		*dst = n
	}
	if filter.Limit == 0 {
		filter.Limit = defaultCallLimit
	}

	for name, dst := range map[string]**time.Time{"after": &filter.After, "before": &filter.Before} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s time: %q must be RFC3339 (e.g. 2026-01-15T00:00:00Z)", name, v)
		}
		*dst = &t
	}
	return filter, nil
}

// printCalls writes one line per call for text output.
func printCalls(w io.Writer, calls []llmcall.Call) {
	for _, c := range calls {
		status := c.Outcome
		if !c.Success {
			status = "failed:" + c.ErrorKind
		}
		fmt.Fprintf(w, "%s  %s  %s/%s  %-16s %3d results  %5dms  %s\n",
			c.Timestamp.Local().Format("2006-01-02 15:04:05"), c.ID, c.Provider, c.Model,
			status, c.Results, c.LatencyMs, c.Document)
	}
}

func (e *ListLLMCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var requestID, sha, outcome, provider, model string
	var limit, offset int
	var successOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List LLM calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			if requestID != "" {
				params.Set("request_id", requestID)
			}
			if sha != "" {
				params.Set("sha256", sha)
			}
			if outcome != "" {
				params.Set("outcome", outcome)
			}
			if provider != "" {
				params.Set("provider", provider)
			}
			if model != "" {
				params.Set("model", model)
			}
			if successOnly {
				params.Set("success", "true")
			}
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}

			path := "/api/llmcalls"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp LLMCallsResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatText {
				printCalls(cmd.OutOrStdout(), resp.Calls)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "Filter by extraction request ID")
	cmd.Flags().StringVar(&sha, "sha256", "", "Filter by document SHA-256")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by parse outcome (clean, unwrapped, recovered, lines)")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")
	cmd.Flags().BoolVar(&successOnly, "success", false, "Only show successful calls")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed calls")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetLLMCallEndpoint handles GET /api/llmcalls/{id}.
type GetLLMCallEndpoint struct{}

func (e *GetLLMCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/{id}", e.handler
}

func (e *GetLLMCallEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get an LLM call
//	@Description	Get a single LLM call by ID
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"LLM call ID"
//	@Success		200	{object}	LLMCallResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls/{id} [get]
func (e *GetLLMCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}

	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	call := store.Get(id)
	if call == nil {
		writeError(w, http.StatusNotFound, "LLM call not found")
		return
	}

	writeJSON(w, http.StatusOK, LLMCallResponse{Call: call})
}

func (e *GetLLMCallEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an LLM call by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			client := api.NewClient(getServerURL())
			var resp LLMCallResponse
			if err := client.Get(ctx, "/api/llmcalls/"+id, &resp); err != nil {
				return err
			}
			return api.Output(resp.Call)
		},
	}
}

// LLMCallCountsEndpoint handles GET /api/llmcalls/counts.
type LLMCallCountsEndpoint struct{}

func (e *LLMCallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/counts", e.handler
}

func (e *LLMCallCountsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get LLM call counts by outcome
//	@Description	Count recorded calls by parse outcome; failures are counted by error kind
//	@Tags			llmcalls
//	@Produce		json
//	@Success		200	{object}	LLMCallCountsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls/counts [get]
func (e *LLMCallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "LLM call store not available")
		return
	}

	writeJSON(w, http.StatusOK, LLMCallCountsResponse{Counts: store.CountByOutcome()})
}

func (e *LLMCallCountsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Count recorded LLM calls by outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp LLMCallCountsResponse
			if err := client.Get(ctx, "/api/llmcalls/counts", &resp); err != nil {
				return err
			}
			return api.Output(resp.Counts)
		},
	}
}
