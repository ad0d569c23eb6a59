package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/golem-io/worker-executor/pkg/client"
	"github.com/golem-io/worker-executor/pkg/rpc"
	"github.com/golem-io/worker-executor/pkg/types"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Operate on workers of a running executor",
}

func init() {
	workerCmd.PersistentFlags().String("executor", "localhost:9000", "Worker-executor address")

	workerCmd.AddCommand(workerCreateCmd)
	workerCmd.AddCommand(workerInvokeCmd)
	workerCmd.AddCommand(workerStatusCmd)
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerOplogCmd)
	workerCmd.AddCommand(workerConnectCmd)
}

// WorkerSpec is the YAML shape `worker create -f` accepts.
type WorkerSpec struct {
	Component string            `yaml:"component"` // component UUID
	Version   uint64            `yaml:"version"`
	Name      string            `yaml:"name"`
	Account   string            `yaml:"account"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

func dialExecutor(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("executor")
	return client.New(addr)
}

func ownedWorkerID(componentID, name, account string) (types.OwnedWorkerId, error) {
	u, err := uuid.Parse(componentID)
	if err != nil {
		return types.OwnedWorkerId{}, fmt.Errorf("malformed component id %q: %w", componentID, err)
	}
	return types.OwnedWorkerId{
		WorkerId:  types.WorkerId{ComponentId: types.ComponentId{UUID: u}, WorkerName: name},
		AccountId: types.AccountId{Value: account},
	}, nil
}

func checkResponse[T any](resp rpc.Response[T]) (*T, error) {
	if resp.Redirect != nil {
		return nil, fmt.Errorf("worker is owned by shard %d on another node", resp.Redirect.ShardNumber)
	}
	if resp.Failure != nil {
		return nil, fmt.Errorf("%s: %s", resp.Failure.Kind, resp.Failure.Message)
	}
	return resp.Success, nil
}

var workerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a worker from a YAML spec",
	Long: `Create a worker from a YAML spec file.

Example spec:

  component: 7f9ad2c9-4e33-4a1c-a2b5-15b0c0b4d6ff
  version: 0
  name: my-counter
  account: acc-1
  env:
    MODE: production`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("reading spec file: %w", err)
		}
		var spec WorkerSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("parsing spec file: %w", err)
		}
		owned, err := ownedWorkerID(spec.Component, spec.Name, spec.Account)
		if err != nil {
			return err
		}

		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.CreateWorker(cmd.Context(), &rpc.CreateWorkerRequest{
			OwnedWorkerId:    owned,
			ComponentVersion: types.ComponentVersion(spec.Version),
			Args:             spec.Args,
			Env:              spec.Env,
		})
		if err != nil {
			return err
		}
		out, err := checkResponse(resp)
		if err != nil {
			return err
		}
		fmt.Printf("worker %s created\n", out.WorkerId)
		return nil
	},
}

var workerInvokeCmd = &cobra.Command{
	Use:   "invoke <component-id> <worker-name> <function> [args...]",
	Short: "Invoke an exported function and await its result",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		owned, err := ownedWorkerID(args[0], args[1], account)
		if err != nil {
			return err
		}
		words := make([]uint64, 0, len(args)-3)
		for _, a := range args[3:] {
			w, perr := strconv.ParseUint(a, 10, 64)
			if perr != nil {
				return fmt.Errorf("argument %q is not a wasm word: %w", a, perr)
			}
			words = append(words, w)
		}

		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.InvokeAndAwait(cmd.Context(), &rpc.InvokeAndAwaitRequest{
			OwnedWorkerId: owned,
			FunctionName:  args[2],
			Args:          words,
		})
		if err != nil {
			return err
		}
		out, err := checkResponse(resp)
		if err != nil {
			return err
		}
		fmt.Println(out.Results)
		return nil
	},
}

var workerStatusCmd = &cobra.Command{
	Use:   "status <component-id> <worker-name>",
	Short: "Show a worker's metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		owned, err := ownedWorkerID(args[0], args[1], account)
		if err != nil {
			return err
		}
		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GetMetadata(cmd.Context(), &rpc.GetMetadataRequest{OwnedWorkerId: owned})
		if err != nil {
			return err
		}
		out, err := checkResponse(resp)
		if err != nil {
			return err
		}
		m := out.Metadata
		fmt.Printf("worker:   %s\n", m.OwnedWorkerId.WorkerId)
		fmt.Printf("version:  %d\n", m.ComponentVersion)
		fmt.Printf("status:   %s\n", m.Status)
		if m.LastError != "" {
			fmt.Printf("last err: %s\n", m.LastError)
		}
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers known to the executor",
	RunE: func(cmd *cobra.Command, args []string) error {
		precise, _ := cmd.Flags().GetBool("precise")
		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		cursor := ""
		for {
			resp, err := c.GetWorkersMetadata(cmd.Context(), &rpc.ListWorkersRequest{Cursor: cursor, Precise: precise})
			if err != nil {
				return err
			}
			out, err := checkResponse(resp)
			if err != nil {
				return err
			}
			for _, m := range out.Workers {
				fmt.Printf("%-50s v%-4d %s\n", m.OwnedWorkerId.WorkerId, m.ComponentVersion, m.Status)
			}
			if out.NextCursor == "" {
				return nil
			}
			cursor = out.NextCursor
		}
	},
}

var workerOplogCmd = &cobra.Command{
	Use:   "oplog <component-id> <worker-name>",
	Short: "Dump a worker's oplog entries",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		from, _ := cmd.Flags().GetUint64("from")
		count, _ := cmd.Flags().GetInt("count")
		owned, err := ownedWorkerID(args[0], args[1], account)
		if err != nil {
			return err
		}
		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GetOplog(cmd.Context(), &rpc.GetOplogRequest{
			OwnedWorkerId: owned,
			From:          types.OplogIndex(from),
			Count:         count,
		})
		if err != nil {
			return err
		}
		out, err := checkResponse(resp)
		if err != nil {
			return err
		}
		fmt.Println(string(out.Entries))
		return nil
	},
}

var workerConnectCmd = &cobra.Command{
	Use:   "connect <component-id> <worker-name>",
	Short: "Stream a worker's log events until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		owned, err := ownedWorkerID(args[0], args[1], account)
		if err != nil {
			return err
		}
		c, err := dialExecutor(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		stream, err := c.Connect(ctx, &rpc.ConnectRequest{OwnedWorkerId: owned})
		if err != nil {
			return err
		}
		for {
			event, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s %-22s %s\n", event.Timestamp, event.Type, event.Message)
		}
	},
}

func init() {
	workerCreateCmd.Flags().StringP("file", "f", "", "YAML worker spec to create (required)")
	_ = workerCreateCmd.MarkFlagRequired("file")

	workerInvokeCmd.Flags().String("account", "", "Owning account id")
	workerStatusCmd.Flags().String("account", "", "Owning account id")
	workerOplogCmd.Flags().String("account", "", "Owning account id")
	workerOplogCmd.Flags().Uint64("from", 1, "First oplog index to read")
	workerOplogCmd.Flags().Int("count", 0, "Number of entries to read (0 = all)")
	workerConnectCmd.Flags().String("account", "", "Owning account id")
}
