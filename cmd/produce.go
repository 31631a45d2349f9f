package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/rpc"
	"github.com/spf13/cobra"
)

func init() {
	var (
		addr      string
		topic     string
		partition int32
		acks      int16
		timeoutMs int32
	)

	produceCmd := &cobra.Command{
		Use:   "produce",
		Short: "Produce messages from stdin, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.DialBroker(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimRight(scanner.Text(), "\r\n")
				if line == "" {
					continue
				}
				resp, err := client.Produce(&protocol.ProduceRequest{
					RequiredAcks: acks,
					TimeoutMs:    timeoutMs,
					Entries: []protocol.ProducePartitionEntry{{
						Topic:     topic,
						Partition: partition,
						Records:   [][]byte{[]byte(line)},
					}},
				})
				if err != nil {
					return err
				}
				if resp == nil {
					continue
				}
				res := resp.Results[0]
				if res.ErrorCode != protocol.ErrNone {
					fmt.Fprintf(os.Stderr, "error: %v\n", res.ErrorCode.Err())
					continue
				}
				fmt.Printf("offset=%d\n", res.BaseOffset)
			}
			return scanner.Err()
		},
	}

	produceCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9092", "broker RPC address")
	produceCmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	produceCmd.Flags().Int32Var(&partition, "partition", 0, "partition")
	produceCmd.Flags().Int16Var(&acks, "acks", 1, "acks: 0=none, 1=leader, -1=all in-sync replicas")
	produceCmd.Flags().Int32Var(&timeoutMs, "timeout-ms", 30_000, "acks=-1 wait budget")
	produceCmd.MarkFlagRequired("topic")

	rootCmd.AddCommand(produceCmd)
}
