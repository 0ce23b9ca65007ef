/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pipeline wires a question through the model, the policy gate and
// the execution session.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/catalog"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/genai"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/guard"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/logging"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/policy"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/result"
	"github.com/GoogleCloudPlatform/nl2sql-guard/internal/session"
)

// Service holds the collaborators of one configured connection.
type Service struct {
	catalog  *catalog.Holder
	gate     *policy.Gate
	provider session.ConnectionProvider
	llm      genai.LLMClient
	retry    guard.RetryOptions
	logger   *zap.Logger

	// introspector and allowed rebuild the catalog on RefreshCatalog.
	introspector catalog.Introspector
	allowed      map[string][]string
}

// Options configures a Service. Provider, LLM and Introspector may be nil
// for commands that do not need them.
type Options struct {
	Catalog      *catalog.Holder
	Gate         *policy.Gate
	Provider     session.ConnectionProvider
	LLM          genai.LLMClient
	Retry        guard.RetryOptions
	Logger       *zap.Logger
	Introspector catalog.Introspector
	Allowed      map[string][]string
}

func NewService(opts Options) (*Service, error) {
	if opts.Gate == nil {
		return nil, errors.New("pipeline: a policy gate is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	holder := opts.Catalog
	if holder == nil {
		holder = catalog.NewHolder(nil)
	}
	return &Service{
		catalog:      holder,
		gate:         opts.Gate,
		provider:     opts.Provider,
		llm:          opts.LLM,
		retry:        opts.Retry,
		logger:       logger,
		introspector: opts.Introspector,
		allowed:      opts.Allowed,
	}, nil
}

// Request is one statement to run. Question is carried for the response
// only.
type Request struct {
	RequestID string
	Question  string
	SQL       string
	Args      []any
}

// Response reports every stage of a request.
type Response struct {
	RequestID    string                  `json:"request_id"`
	Question     string                  `json:"question,omitempty"`
	CandidateSQL string                  `json:"candidate_sql"`
	Verdict      policy.Verdict          `json:"verdict"`
	Result       *result.ExecutionResult `json:"result,omitempty"`
}

// Err returns the first failure of the request, or nil.
func (r Response) Err() error {
	if err := r.Verdict.Err(); err != nil {
		return err
	}
	if r.Result != nil {
		return r.Result.Err()
	}
	return nil
}

// Catalog returns the current snapshot.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog.Load()
}

// Check classifies and evaluates sql against the current catalog.
func (s *Service) Check(requestID, sql string) policy.Verdict {
	if requestID == "" {
		requestID = logging.NewRequestID()
	}
	return s.gate.Check(requestID, sql, s.catalog.Load())
}

// Run checks req.SQL and executes it when allowed. Timeouts and pool
// exhaustion are retried; a rejection is final.
func (s *Service) Run(ctx context.Context, req Request) Response {
	if req.RequestID == "" {
		req.RequestID = logging.NewRequestID()
	}
	resp := Response{
		RequestID:    req.RequestID,
		Question:     req.Question,
		CandidateSQL: req.SQL,
		Verdict:      s.Check(req.RequestID, req.SQL),
	}
	if !resp.Verdict.Allowed() {
		return resp
	}

	logger := s.logger.With(zap.String("request_id", req.RequestID))
	sess := session.New(s.gate.Limits(), logger)
	res, err := guard.WithRetry(ctx, s.retry, logger,
		func(r result.ExecutionResult, _ error) bool { return r.Error.Retryable() },
		func(ctx context.Context) (result.ExecutionResult, error) {
			r := sess.Execute(ctx, resp.Verdict, s.provider, req.Args...)
			return r, r.Err()
		})
	if err != nil && !res.Failed() {
		// The context ended before the first attempt.
		res = result.Failure(guard.KindOf(err), "request was cancelled", err.Error())
	}
	resp.Result = &res
	return resp
}

// Generate has the model write a candidate query for question. The
// question is logged; the candidate is not trusted until checked.
func (s *Service) Generate(ctx context.Context, requestID, question, extraContext string) (string, error) {
	if s.llm == nil {
		return "", errors.New("no language model configured")
	}
	s.logger.Info("question received",
		zap.String("request_id", requestID),
		zap.String("question", question))

	sql, err := s.llm.GenerateSQL(ctx, genai.PromptInput{
		Question:      question,
		Dialect:       s.gate.Dialect().String(),
		SchemaContext: s.catalog.Load().FormatContext(),
		ExtraContext:  extraContext,
		MaxRows:       s.gate.Limits().MaxRows,
	})
	if err != nil {
		return "", fmt.Errorf("generating SQL: %w", err)
	}
	return sql, nil
}

// Ask has the model write a query for question and runs it. Only model
// failures are returned as errors; gate and execution outcomes are in the
// response.
func (s *Service) Ask(ctx context.Context, question, extraContext string) (Response, error) {
	requestID := logging.NewRequestID()
	sql, err := s.Generate(ctx, requestID, question, extraContext)
	if err != nil {
		return Response{RequestID: requestID, Question: question}, err
	}
	return s.Run(ctx, Request{RequestID: requestID, Question: question, SQL: sql}), nil
}

// RefreshCatalog re-reads the schema and publishes a new snapshot. Requests
// in flight keep the snapshot they started with.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	if s.introspector == nil {
		return errors.New("no introspector configured")
	}
	return s.catalog.Refresh(ctx, func(ctx context.Context) (*catalog.Catalog, error) {
		return catalog.FromIntrospection(ctx, s.introspector, s.allowed, s.logger)
	})
}
