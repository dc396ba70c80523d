package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apilens/apilens/internal/config"
	"github.com/apilens/apilens/internal/core/client"
	"github.com/apilens/apilens/internal/observability"
	"github.com/apilens/apilens/internal/output"
)

var (
	callMethod string
	callData   string
	callQuery  []string
)

var callCmd = &cobra.Command{
	Use:   "call <path>",
	Short: "Issue one upstream API call through the gateway core",
	Long: `Issue a single request against the configured upstream API.

The call goes through the same admission controller, token supplier, and
error classification as server passthrough traffic.

Examples:
  # Fetch a collection
  apilens call /projects

  # Create a resource
  apilens call /projects -X POST -d '{"data":{"type":"projects"}}'

  # Query parameters
  apilens call /people -q page=2 -q per_page=50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		deps, err := buildGateway(cfg)
		if err != nil {
			return err
		}

		method := strings.ToUpper(strings.TrimSpace(callMethod))
		if method == "" {
			method = http.MethodGet
		}

		query := url.Values{}
		for _, pair := range callQuery {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return fmt.Errorf("invalid query parameter %q, expected key=value", pair)
			}
			query.Add(key, value)
		}

		var body any
		if data := strings.TrimSpace(callData); data != "" {
			if data == "-" {
				decoded, err := readStdin()
				if err != nil {
					return err
				}
				data = decoded
			}
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("request body is not valid JSON")
			}
			body = json.RawMessage(data)
		}

		result, err := deps.Executor.Execute(cmd.Context(), client.Request{
			Method: method,
			Path:   args[0],
			Query:  query,
			Body:   body,
		})
		if err != nil {
			if apiErr, ok := client.AsAPIError(err); ok {
				logAPIError(apiErr)
			}
			return err
		}

		return printCallResult(format, result)
	},
}

func logAPIError(apiErr *client.APIError) {
	if observability.CLILogger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("kind", string(apiErr.Kind)),
		zap.Int("status", apiErr.StatusCode),
	}
	if apiErr.Kind == client.KindRateLimited {
		fields = append(fields, zap.Int("retry_after_seconds", apiErr.RetryAfterSeconds))
	}
	for _, detail := range apiErr.Details {
		fields = append(fields, zap.String("field_"+detail.Field, detail.Detail))
	}
	observability.CLILogger.Error("upstream call failed", fields...)
}

func printCallResult(format output.Format, result *client.Result) error {
	if len(result.Body) == 0 {
		fmt.Printf("(empty response, status %d)\n", result.StatusCode)
		return nil
	}

	switch format {
	case output.FormatYAML:
		var decoded any
		if err := json.Unmarshal(result.Body, &decoded); err != nil {
			return err
		}
		rendered, err := output.RenderYAML(decoded)
		if err != nil {
			return err
		}
		fmt.Print(rendered)
	default:
		var decoded any
		if err := json.Unmarshal(result.Body, &decoded); err != nil {
			return err
		}
		rendered, err := output.RenderJSON(decoded)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
	}
	return nil
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read request body from stdin: %w", err)
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&callMethod, "method", "X", http.MethodGet, "HTTP method")
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body ('-' reads stdin)")
	callCmd.Flags().StringArrayVarP(&callQuery, "query", "q", nil, "Query parameter key=value (repeatable)")
	callCmd.Flags().String("output-format", string(output.FormatJSON), "Output format: json|yaml")
}
