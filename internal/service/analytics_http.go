package service

import (
	"context"

	"InsightLane/internal/biz"
	"InsightLane/internal/model"

	"github.com/go-kratos/kratos/v2/transport/http"
)

const OperationAnalyticsCollect = "/insightlane.v1.Analytics/Collect"
const OperationAnalyticsAnalyze = "/insightlane.v1.Analytics/Analyze"
const OperationAnalyticsAggregate = "/insightlane.v1.Analytics/Aggregate"
const OperationAnalyticsExecute = "/insightlane.v1.Analytics/Execute"
const OperationAnalyticsRetrieve = "/insightlane.v1.Analytics/Retrieve"
const OperationAnalyticsListCircuits = "/insightlane.v1.Analytics/ListCircuits"
const OperationAnalyticsGetCircuit = "/insightlane.v1.Analytics/GetCircuit"
const OperationAnalyticsResetCircuit = "/insightlane.v1.Analytics/ResetCircuit"
const OperationAnalyticsRetryService = "/insightlane.v1.Analytics/RetryService"

// AnalyticsHTTPServer is the set of operations served over HTTP.
type AnalyticsHTTPServer interface {
	Collect(context.Context, *CollectRequest) (*model.CollectionResult, error)
	Analyze(context.Context, *AnalyzeRequest) (*model.AnalysisResult, error)
	Aggregate(context.Context, *AggregateRequest) (*model.AggregationResult, error)
	Execute(context.Context, *ExecuteRequest) (*biz.ExecutionResult, error)
	Retrieve(context.Context, *RetrieveRequest) (*biz.RetrieveResult, error)
	ListCircuits(context.Context, *ListCircuitsRequest) (*ListCircuitsReply, error)
	GetCircuit(context.Context, *CircuitRequest) (*CircuitReply, error)
	ResetCircuit(context.Context, *CircuitRequest) (*biz.CircuitSnapshot, error)
	RetryService(context.Context, *RetryRequest) (*biz.RetryOutcome, error)
}

func RegisterAnalyticsHTTPServer(s *http.Server, srv AnalyticsHTTPServer) {
	r := s.Route("/")
	r.POST("/v1/pipeline/collect", _Analytics_Collect0_HTTP_Handler(srv))
	r.POST("/v1/pipeline/analyze", _Analytics_Analyze0_HTTP_Handler(srv))
	r.POST("/v1/pipeline/aggregate", _Analytics_Aggregate0_HTTP_Handler(srv))
	r.POST("/v1/pipeline/execute", _Analytics_Execute0_HTTP_Handler(srv))
	r.GET("/v1/storage/{owner}/{kind}", _Analytics_Retrieve0_HTTP_Handler(srv))
	r.GET("/v1/circuits", _Analytics_ListCircuits0_HTTP_Handler(srv))
	r.GET("/v1/circuits/{service}", _Analytics_GetCircuit0_HTTP_Handler(srv))
	r.POST("/v1/circuits/{service}/reset", _Analytics_ResetCircuit0_HTTP_Handler(srv))
	r.POST("/v1/services/{service}/retry", _Analytics_RetryService0_HTTP_Handler(srv))
}

func _Analytics_Collect0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in CollectRequest
		if err := bindBody(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationAnalyticsCollect)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Collect(ctx, req.(*CollectRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*model.CollectionResult)
		return ctx.Result(200, reply)
	}
}

func _Analytics_Analyze0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in AnalyzeRequest
		if err := bindBody(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationAnalyticsAnalyze)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Analyze(ctx, req.(*AnalyzeRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*model.AnalysisResult)
		return ctx.Result(200, reply)
	}
}

func _Analytics_Aggregate0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in AggregateRequest
		if err := bindBody(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationAnalyticsAggregate)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Aggregate(ctx, req.(*AggregateRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*model.AggregationResult)
		return ctx.Result(200, reply)
	}
}

func _Analytics_Execute0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ExecuteRequest
		if err := bindBody(ctx, &in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationAnalyticsExecute)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Execute(ctx, req.(*ExecuteRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*biz.ExecutionResult)
		return ctx.Result(200, reply)
	}
}

func _Analytics_Retrieve0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		vars := ctx.Vars()
		in := RetrieveRequest{
			Owner: vars.Get("owner"),
			Kind:  vars.Get("kind"),
			Range: ctx.Query().Get("range"),
		}
		http.SetOperation(ctx, OperationAnalyticsRetrieve)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Retrieve(ctx, req.(*RetrieveRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*biz.RetrieveResult)
		return ctx.Result(200, reply)
	}
}

func _Analytics_ListCircuits0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListCircuitsRequest
		http.SetOperation(ctx, OperationAnalyticsListCircuits)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListCircuits(ctx, req.(*ListCircuitsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*ListCircuitsReply)
		return ctx.Result(200, reply)
	}
}

func _Analytics_GetCircuit0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := CircuitRequest{Service: ctx.Vars().Get("service")}
		http.SetOperation(ctx, OperationAnalyticsGetCircuit)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetCircuit(ctx, req.(*CircuitRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*CircuitReply)
		return ctx.Result(200, reply)
	}
}

func _Analytics_ResetCircuit0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := CircuitRequest{Service: ctx.Vars().Get("service")}
		http.SetOperation(ctx, OperationAnalyticsResetCircuit)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ResetCircuit(ctx, req.(*CircuitRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*biz.CircuitSnapshot)
		return ctx.Result(200, reply)
	}
}

func _Analytics_RetryService0_HTTP_Handler(srv AnalyticsHTTPServer) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RetryRequest
		if err := bindBody(ctx, &in); err != nil {
			return err
		}
		in.Service = ctx.Vars().Get("service")
		http.SetOperation(ctx, OperationAnalyticsRetryService)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RetryService(ctx, req.(*RetryRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*biz.RetryOutcome)
		return ctx.Result(200, reply)
	}
}

// bindBody decodes the request body into in. An empty body leaves in zeroed.
func bindBody(ctx http.Context, in interface{}) error {
	if ctx.Request().ContentLength == 0 {
		return nil
	}
	return ctx.Bind(in)
}
