package domain

type QueueStats struct {
	Kind       Kind  `json:"kind"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"inProgress"`
	Finished   int64 `json:"finished"`
}
