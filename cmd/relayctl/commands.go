package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/model"
	"github.com/seantiz/relay/internal/tensor"
)

var inferFollow bool

var inferCmd = &cobra.Command{
	Use:   "infer <values>...",
	Short: "Submit one request per argument; values are comma separated",
	Args:  cobra.MinimumNArgs(1),
	RunE:  inferRun,
}

var getCmd = &cobra.Command{
	Use:   "get <request-id>",
	Short: "Show a request and its responses",
	Args:  cobra.ExactArgs(1),
	RunE:  getRun,
}

var streamCmd = &cobra.Command{
	Use:   "stream <request-id>",
	Short: "Follow the responses of a request until it closes",
	Args:  cobra.ExactArgs(1),
	RunE:  streamRun,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show request statistics",
	Args:  cobra.NoArgs,
	RunE:  statsRun,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the served model and its downstream backends",
	Args:  cobra.NoArgs,
	RunE:  modelsRun,
}

func init() {
	inferCmd.Flags().BoolVarP(&inferFollow, "follow", "f", false, "stream the responses of every created request")
}

// parseValues parses a comma separated list of numbers into an input tensor.
func parseValues(arg string) (tensor.Tensor, error) {
	var values []float32
	for field := range strings.SplitSeq(arg, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return tensor.Tensor{}, fmt.Errorf("invalid value %q: %w", field, err)
		}
		values = append(values, float32(v))
	}
	return tensor.Tensor{Values: values}, nil
}

type inferResult struct {
	Requests []*model.Request `json:"requests"`
	Error    string           `json:"error"`
}

func inferRun(cmd *cobra.Command, args []string) error {
	inputs := make([]tensor.Tensor, len(args))
	for i, arg := range args {
		t, err := parseValues(arg)
		if err != nil {
			return err
		}
		inputs[i] = t
	}

	var res inferResult
	_, err := newClient().do(http.MethodPost, "/v1/infer", map[string]any{"inputs": inputs}, &res)

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tSTATUS\tINPUT\n")
	for _, r := range res.Requests {
		fmt.Fprintf(w, "%s\t%s\t%v\n", r.ID, r.Status, r.Input)
	}
	if flushErr := w.Flush(); flushErr != nil {
		return flushErr
	}
	if err != nil {
		return err
	}

	if inferFollow {
		for _, r := range res.Requests {
			fmt.Fprintf(out, "\n%s:\n", r.ID)
			if err := follow(out, r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

type historyResult struct {
	RequestID string                 `json:"request_id"`
	Status    string                 `json:"status"`
	Responses []model.StoredResponse `json:"responses"`
}

func getRun(cmd *cobra.Command, args []string) error {
	c := newClient()

	var req model.Request
	if _, err := c.do(http.MethodGet, "/v1/requests/"+args[0], nil, &req); err != nil {
		return err
	}
	var hist historyResult
	if _, err := c.do(http.MethodGet, "/v1/requests/"+args[0]+"/responses/history", nil, &hist); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", req.ID)
	fmt.Fprintf(out, "Model:     %s\n", req.Model)
	fmt.Fprintf(out, "Status:    %s\n", req.Status)
	fmt.Fprintf(out, "Input:     %v\n", req.Input)
	if req.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", req.Error)
	}
	fmt.Fprintf(out, "Responses: %d\n", req.ResponseCount)
	for _, r := range hist.Responses {
		if r.OK {
			fmt.Fprintf(out, "  #%d  %s %v\n", r.Seq, r.Output.Name, *r.Output)
		} else {
			fmt.Fprintf(out, "  #%d  error: %s\n", r.Seq, r.Error)
		}
	}
	return nil
}

func streamRun(cmd *cobra.Command, args []string) error {
	return follow(cmd.OutOrStdout(), args[0])
}

// follow prints the responses of a request as they arrive.
func follow(out io.Writer, id string) error {
	var streamErr error
	err := newClient().stream("/v1/requests/"+id+"/responses", func(ev sseEvent) bool {
		switch ev.Name {
		case "done":
			fmt.Fprintln(out, "closed")
			return false
		case "error":
			streamErr = fmt.Errorf("stream ended: %s", ev.Data)
			return false
		}

		var r engine.Response
		if err := json.Unmarshal([]byte(ev.Data), &r); err != nil {
			streamErr = fmt.Errorf("decoding response: %w", err)
			return false
		}
		if r.Failed() {
			fmt.Fprintf(out, "error: %s\n", r.Error)
		} else {
			fmt.Fprintf(out, "%s %v\n", r.Output.Name, *r.Output)
		}
		return true
	})
	if err != nil {
		return err
	}
	return streamErr
}

type statsResult struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	TotalResponses int            `json:"total_responses"`
	AvgResponses   float64        `json:"avg_responses"`
	Inflight       int64          `json:"inflight_branches"`
}

func statsRun(cmd *cobra.Command, _ []string) error {
	var s statsResult
	if _, err := newClient().do(http.MethodGet, "/v1/stats", nil, &s); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "requests\t%d\n", s.Total)
	for _, status := range []string{model.StatusPending, model.StatusStreaming, model.StatusClosed, model.StatusFailed} {
		fmt.Fprintf(w, "  %s\t%d\n", status, s.ByStatus[status])
	}
	fmt.Fprintf(w, "responses\t%d\n", s.TotalResponses)
	fmt.Fprintf(w, "avg responses\t%.2f\n", s.AvgResponses)
	fmt.Fprintf(w, "inflight branches\t%d\n", s.Inflight)
	return w.Flush()
}

func modelsRun(cmd *cobra.Command, _ []string) error {
	var raw json.RawMessage
	if _, err := newClient().do(http.MethodGet, "/v1/models", nil, &raw); err != nil {
		return err
	}

	var pretty strings.Builder
	enc := json.NewEncoder(&pretty)
	enc.SetIndent("", "  ")
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), pretty.String())
	return err
}
