package cmd

import (
	"fmt"

	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/rpc"
	"github.com/spf13/cobra"
)

func init() {
	var (
		addr      string
		topic     string
		partition int32
		offset    uint64
		follow    bool
	)

	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Read committed messages starting at an offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.DialBroker(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			for {
				maxWait := int32(0)
				if follow {
					maxWait = 5000
				}
				resp, err := client.Fetch(&protocol.FetchRequest{
					ReplicaID: protocol.ConsumerReplicaID,
					MaxWaitMs: maxWait,
					MinBytes:  1,
					Partitions: []protocol.FetchPartition{{
						Topic:       topic,
						Partition:   partition,
						FetchOffset: offset,
					}},
				})
				if err != nil {
					return err
				}
				res := resp.Results[0]
				if res.ErrorCode != protocol.ErrNone {
					return res.ErrorCode.Err()
				}
				records, err := protocol.DecodeRecordBatch(res.RecordBatch)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Printf("%d: %s\n", r.Offset, r.Value)
					offset = r.Offset + 1
				}
				if !follow && len(records) == 0 {
					return nil
				}
			}
		},
	}

	consumeCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9092", "broker RPC address")
	consumeCmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	consumeCmd.Flags().Int32Var(&partition, "partition", 0, "partition")
	consumeCmd.Flags().Uint64Var(&offset, "offset", 0, "start offset")
	consumeCmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new messages")
	consumeCmd.MarkFlagRequired("topic")

	rootCmd.AddCommand(consumeCmd)
}
