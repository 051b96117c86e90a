package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/offsync/internal/application/access"
	"github.com/jbctechsolutions/offsync/internal/domain/entity"
)

type writeFlags struct {
	data     string
	entityID string
	status   string
	title    string
}

// WriteView is the JSON shape of a write.
type WriteView struct {
	Status     string          `json:"status"`
	MutationID string          `json:"mutation_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	HTTPStatus int             `json:"http_status,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewWriteCmd creates the write command.
func NewWriteCmd() *cobra.Command {
	var flags writeFlags

	cmd := &cobra.Command{
		Use:   "write <method> <endpoint>",
		Short: "Send a write, queueing it if the service is unreachable",
		Long: `Send a POST, PUT, PATCH or DELETE to the remote service.

The cached entity is updated immediately. If the service cannot be reached the
write is stored in the local queue and replayed later, in order.`,
		Example: `  offsync write PATCH /shoots/s1 --status active
  offsync write POST /shoots --data '{"title":"Dunes","status":"upcoming"}'
  offsync write DELETE /shoots/s2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := startedContainer(cmd.Context())
			if err != nil {
				return err
			}

			req, err := buildWriteRequest(args[0], args[1], container.Config().Remote.ResourcePath, flags)
			if err != nil {
				return err
			}

			res, err := container.Access().Write(cmd.Context(), req, access.WriteOptions{Offline: globalFlags.Offline})
			if err != nil {
				return err
			}
			return renderWrite(res)
		},
	}

	cmd.Flags().StringVarP(&flags.data, "data", "d", "", "JSON request body")
	cmd.Flags().StringVar(&flags.entityID, "entity", "", "cached entity the write targets (default: taken from the endpoint)")
	cmd.Flags().StringVar(&flags.status, "status", "", "new status for the entity")
	cmd.Flags().StringVar(&flags.title, "title", "", "new title for the entity")

	return cmd
}

func buildWriteRequest(method, endpoint, resourcePath string, flags writeFlags) (access.Request, error) {
	method = strings.ToUpper(method)
	req := access.Request{Method: method, Endpoint: endpoint}

	switch {
	case flags.data != "":
		if !json.Valid([]byte(flags.data)) {
			return req, fmt.Errorf("--data is not valid JSON")
		}
		req.Payload = []byte(flags.data)
	case flags.status != "" || flags.title != "":
		body := map[string]string{}
		if flags.status != "" {
			body["status"] = flags.status
		}
		if flags.title != "" {
			body["title"] = flags.title
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return req, err
		}
		req.Payload = payload
	}

	id := flags.entityID
	if id == "" {
		id = entityFromEndpoint(resourcePath, endpoint)
	}
	if id == "" {
		return req, nil
	}

	patch := &entity.Patch{EntityID: id, Delete: method == http.MethodDelete}
	if flags.status != "" {
		patch.Status = &flags.status
	}
	if flags.title != "" {
		patch.Title = &flags.title
	}
	if !patch.IsEmpty() {
		req.Patch = patch
	}
	return req, nil
}

// entityFromEndpoint returns the id in "<resourcePath>/<id>", or "".
func entityFromEndpoint(resourcePath, endpoint string) string {
	prefix := strings.TrimSuffix(resourcePath, "/") + "/"
	rest, ok := strings.CutPrefix(endpoint, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func renderWrite(res *access.WriteResult) error {
	formatter := GetFormatter()

	view := WriteView{Status: string(res.Status), MutationID: res.MutationID, Reason: res.Reason}
	if res.Response != nil {
		view.HTTPStatus = res.Response.StatusCode
		view.Data = res.Response.Data
	}
	if formatter.IsJSON() {
		return formatter.JSON(view)
	}

	if res.Status == access.StatusQueued {
		formatter.Warning("Queued %s (%s)", res.MutationID, res.Reason)
		return nil
	}
	formatter.Success("Sent (HTTP %d)", view.HTTPStatus)
	if len(view.Data) > 0 {
		formatter.Println("%s", string(view.Data))
	}
	return nil
}
