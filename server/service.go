package server

import (
	"context"
	"fmt"
	"reflect"

	"msgrpc/rpc"
)

type methodType struct {
	method    reflect.Method
	withCtx   bool // func(ctx, *Args, *Reply) error
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported methods of the form func(*Args, *Reply) error", s.name)
	}
	return s, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods keeps the exported methods shaped like
//
//	func (r *T) Method(args *Args, reply *Reply) error
//	func (r *T) Method(ctx context.Context, args *Args, reply *Reply) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		first := 1
		withCtx := false
		switch mt.NumIn() {
		case 3:
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			first, withCtx = 2, true
		default:
			continue
		}
		if mt.In(first).Kind() != reflect.Ptr || mt.In(first+1).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   mt.In(first).Elem(),
			ReplyType: mt.In(first + 1).Elem(),
		}
	}
}

// procedures returns one rpc.Procedure per method, named "Type.Method".
func (s *service) procedures() map[string]rpc.Procedure {
	out := make(map[string]rpc.Procedure, len(s.method))
	for name, mt := range s.method {
		out[s.name+"."+name] = &methodProcedure{svc: s, mtype: mt}
	}
	return out
}

func (s *service) call(ctx context.Context, mt *methodType, argv, replyv reflect.Value) error {
	args := []reflect.Value{s.rcvr, argv, replyv}
	if mt.withCtx {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mt.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// methodProcedure adapts a reflected method to rpc.Procedure. The argument is
// decoded into a fresh *Args; the filled *Reply is the result.
type methodProcedure struct {
	svc   *service
	mtype *methodType
}

func (m *methodProcedure) Invoke(ctx context.Context, arg any) (any, error) {
	argv := reflect.New(m.mtype.ArgType)
	if err := rpc.Decode(arg, argv.Interface()); err != nil {
		return nil, err
	}
	replyv := reflect.New(m.mtype.ReplyType)
	if err := m.svc.call(ctx, m.mtype, argv, replyv); err != nil {
		return nil, err
	}
	return replyv.Interface(), nil
}
