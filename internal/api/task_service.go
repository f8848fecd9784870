package api

import (
	"context"
	"strings"
	"time"

	"notifyhub/internal/domain"
	"notifyhub/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	taskServiceName         = "notifyhub.scheduler.v1.TaskService"
	taskServiceListTasks    = "/" + taskServiceName + "/ListTasks"
	taskServiceReconcile    = "/" + taskServiceName + "/Reconcile"
	taskServiceScheduleTask = "/" + taskServiceName + "/ScheduleTask"
)

// TaskServiceServer is the admin RPC surface of the scheduler.
// Payloads are google.protobuf.Struct so no generated stubs are required.
type TaskServiceServer interface {
	ListTasks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Reconcile(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ScheduleTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: taskServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTasks", Handler: listTasksHandler},
		{MethodName: "Reconcile", Handler: reconcileHandler},
		{MethodName: "ScheduleTask", Handler: scheduleTaskHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&TaskServiceDesc, srv)
}

func listTasksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).ListTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: taskServiceListTasks}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).ListTasks(ctx, req.(*emptypb.Empty))
	})
}

func reconcileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).Reconcile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: taskServiceReconcile}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).Reconcile(ctx, req.(*emptypb.Empty))
	})
}

func scheduleTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskServiceServer).ScheduleTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: taskServiceScheduleTask}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).ScheduleTask(ctx, req.(*structpb.Struct))
	})
}

// TaskServiceClient calls TaskService over a client connection.
type TaskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskServiceClient(cc grpc.ClientConnInterface) *TaskServiceClient {
	return &TaskServiceClient{cc: cc}
}

func (c *TaskServiceClient) ListTasks(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, taskServiceListTasks, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskServiceClient) Reconcile(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, taskServiceReconcile, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TaskServiceClient) ScheduleTask(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, taskServiceScheduleTask, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskService implements TaskServiceServer on top of the scheduler.
type TaskService struct {
	scheduler domain.TaskScheduler
}

func NewTaskService(scheduler domain.TaskScheduler) *TaskService {
	return &TaskService{scheduler: scheduler}
}

func (s *TaskService) ListTasks(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	tasks := s.scheduler.Tasks()
	list := make([]any, 0, len(tasks))
	for _, t := range tasks {
		list = append(list, taskToMap(t))
	}
	out, err := structpb.NewStruct(map[string]any{"tasks": list})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode tasks")
	}
	return out, nil
}

func (s *TaskService) Reconcile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.scheduler.Reconcile(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	out, err := structpb.NewStruct(map[string]any{
		"fetched":  res.Fetched,
		"admitted": res.Admitted,
		"evicted":  res.Evicted,
		"removed":  res.Removed,
		"skipped":  res.Skipped,
		"cleared":  res.Cleared,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

func (s *TaskService) ScheduleTask(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := strings.TrimSpace(fields["id"].GetStringValue())
	userID := strings.TrimSpace(fields["userId"].GetStringValue())
	rawTime := strings.TrimSpace(fields["time"].GetStringValue())
	if id == "" || userID == "" || rawTime == "" {
		return nil, status.Error(codes.InvalidArgument, "id, userId and time are required")
	}
	at, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid time format; expected RFC3339")
	}

	admitted := s.scheduler.Schedule(id, userID, at)
	out, err := structpb.NewStruct(map[string]any{"id": id, "admitted": admitted})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

func taskToMap(t models.Task) map[string]any {
	m := map[string]any{
		"id":            t.ID,
		"userId":        t.UserID,
		"executionTime": t.ExecutionTime.Format(time.RFC3339Nano),
		"createdAt":     t.CreatedAt.Format(time.RFC3339Nano),
		"state":         t.State,
		"isExecuted":    t.IsExecuted,
	}
	if t.ExecutedAt != nil {
		m["executedAt"] = t.ExecutedAt.Format(time.RFC3339Nano)
	}
	if t.LastRunTime != nil {
		m["lastRunTime"] = t.LastRunTime.Format(time.RFC3339Nano)
	}
	return m
}
