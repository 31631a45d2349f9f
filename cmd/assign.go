package cmd

import (
	"fmt"

	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/rpc"
	"github.com/spf13/cobra"
)

// assign drives the controller side of the protocol by hand: it sends the
// same leader-and-isr request to every listed broker. Useful for small
// clusters and demos where no controller process runs.
func init() {
	var (
		addrs     []string
		topic     string
		partition int32
		epoch     int32
		leader    int32
		replicas  []int32
		isr       []int32
	)

	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign partition leadership on a set of brokers",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &protocol.LeaderAndISRRequest{
				ControllerEpoch: epoch,
				Partitions: []protocol.PartitionState{{
					Topic:       topic,
					Partition:   partition,
					LeaderEpoch: epoch,
					Leader:      leader,
					Replicas:    replicas,
					ISR:         isr,
				}},
			}
			for _, addr := range addrs {
				client, err := rpc.DialBroker(addr)
				if err != nil {
					return fmt.Errorf("dial %s: %w", addr, err)
				}
				resp, err := client.LeaderAndISR(req)
				client.Close()
				if err != nil {
					return fmt.Errorf("assign on %s: %w", addr, err)
				}
				res := resp.Results[0]
				if res.ErrorCode != protocol.ErrNone {
					return fmt.Errorf("assign on %s failed: %v", addr, res.ErrorCode.Err())
				}
				fmt.Printf("%s: ok\n", addr)
			}
			return nil
		},
	}

	assignCmd.Flags().StringSliceVar(&addrs, "addr", nil, "broker RPC addresses, repeatable (required)")
	assignCmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	assignCmd.Flags().Int32Var(&partition, "partition", 0, "partition")
	assignCmd.Flags().Int32Var(&epoch, "epoch", 0, "leader epoch, must be newer than the current one")
	assignCmd.Flags().Int32Var(&leader, "leader", 0, "broker id of the leader (required)")
	assignCmd.Flags().Int32SliceVar(&replicas, "replicas", nil, "assigned replica broker ids")
	assignCmd.Flags().Int32SliceVar(&isr, "isr", nil, "in-sync replica broker ids")
	assignCmd.MarkFlagRequired("addr")
	assignCmd.MarkFlagRequired("topic")
	assignCmd.MarkFlagRequired("leader")

	rootCmd.AddCommand(assignCmd)
}
