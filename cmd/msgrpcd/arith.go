package main

import (
	"context"
	"errors"

	"msgrpc/rpc"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

// Arith is the demo service, served as Arith.Add, Arith.Mul and Arith.Div.
type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Mul(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

var errDivideByZero = errors.New("divide by zero")

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errDivideByZero
	}
	reply.Result = args.A / args.B
	return nil
}

func double(ctx context.Context, arg any) (any, error) {
	n, err := rpc.As[float64](arg)
	if err != nil {
		return nil, err
	}
	return n * 2, nil
}
