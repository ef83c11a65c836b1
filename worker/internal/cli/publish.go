package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	natsq "github.com/spheroseg/segpipeline/core/libs/nats"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
	"github.com/spheroseg/segpipeline/worker/internal/infra/queue"
)

func newPublishCmd(root *rootOptions) *cobra.Command {
	var (
		natsURL     string
		taskID      string
		imageID     string
		imagePath   string
		callbackURL string
		params      []string
		fromFile    string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a segmentation task to the queue",
		Example: `  segctl publish --image-id 42 --image-path uploads/42.png \
    --callback-url http://api:5001/api/segmentation/42/callback --param threshold=0.6

  # replay a stored message body verbatim
  segctl publish --from-file task.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("nats-url") {
				cfg.NATS.URL = natsURL
			}

			nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
				Name:     "segctl",
				User:     cfg.NATS.User,
				Password: cfg.NATS.Password,
			})
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := natsq.NewJetStream(nc, natsq.TaskStream(cfg.NATS.Stream, cfg.NATS.Subject))
			if err != nil {
				return err
			}
			q := queue.New(js, cfg.NATS.Subject)

			if fromFile != "" {
				body, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read task body: %w", err)
				}
				if !json.Valid(body) {
					return fmt.Errorf("%s is not valid JSON", fromFile)
				}
				id := taskID
				if id == "" {
					id = bodyTaskID(body)
				}
				if id == "" {
					id = uuid.NewString()
				}
				if err := q.EnqueueRaw(cmd.Context(), id, json.RawMessage(body)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}

			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			task := domain.SegmentationTask{
				TaskID:      taskID,
				ImageID:     domain.ImageID(imageID),
				ImagePath:   imagePath,
				Parameters:  parameters,
				CallbackURL: callbackURL,
			}
			if task.TaskID == "" {
				task.TaskID = uuid.NewString()
			}
			if err := q.Enqueue(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.TaskID)
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "broker URL, overrides the config")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id; defaults to the body's taskId with --from-file, else a random UUID")
	cmd.Flags().StringVar(&imageID, "image-id", "", "image id")
	cmd.Flags().StringVar(&imagePath, "image-path", "", "image locator, a path or minio:// / s3:// URL")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "URL that receives the result")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "task parameter as key=value, repeatable")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "publish this JSON body as-is")
	cmd.MarkFlagsMutuallyExclusive("from-file", "image-path")
	return cmd
}

// bodyTaskID returns the taskId field of a raw task body, so replays of the
// same file share a message id and JetStream drops the duplicates.
func bodyTaskID(body []byte) string {
	var head struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return head.TaskID
}

// parseParams turns key=value pairs into task parameters. Numbers and
// booleans keep their type; everything else stays a string.
func parseParams(pairs []string) (domain.Parameters, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(domain.Parameters, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", pair)
		}
		switch {
		case isNumber(raw):
			f, _ := strconv.ParseFloat(raw, 64)
			out[key] = f
		case raw == "true" || raw == "false":
			out[key] = raw == "true"
		default:
			out[key] = raw
		}
	}
	return out, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
