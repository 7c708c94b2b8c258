//go:build !no_automation

package automation

import (
	"context"
	"time"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/fields"

	lua "github.com/yuin/gopher-lua"
)

// registerUbibotModule registers the `ubibot` global table in a Lua state.
func registerUbibotModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return ubibotOn(L, vm)
	}))

	mod.RawSetString("on_update", L.NewFunction(func(L *lua.LState) int {
		return ubibotOnUpdate(L, vm)
	}))

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		return ubibotGet(L, e)
	}))

	mod.RawSetString("set_switch", L.NewFunction(func(L *lua.LState) int {
		return ubibotSetSwitch(L, e)
	}))

	mod.RawSetString("set_interval", L.NewFunction(func(L *lua.LState) int {
		return ubibotSetInterval(L, e)
	}))

	mod.RawSetString("refresh", L.NewFunction(func(L *lua.LState) int {
		return ubibotRefresh(L, e)
	}))

	mod.RawSetString("channels", L.NewFunction(func(L *lua.LState) int {
		return ubibotChannels(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return ubibotAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return ubibotLog(L, e)
	}))

	L.SetGlobal("ubibot", mod)
}

const maxHandlersPerScript = 100

func addHandler(L *lua.LState, vm *scriptVM, h luaEventHandler) {
	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
}

// ubibot.on(type, filter, callback)
func ubibotOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}
	if v := filterTable.RawGetString("channel"); v != lua.LNil {
		h.channelID = v.String()
	}

	addHandler(L, vm, h)
	return 0
}

// ubibot.on_update(channel, callback) — sugar for the common case: fire on
// every new snapshot for one channel ("" or "*" for all).
func ubibotOnUpdate(L *lua.LState, vm *scriptVM) int {
	channelID := L.CheckString(1)
	fn := L.CheckFunction(2)
	if channelID == "*" {
		channelID = ""
	}

	addHandler(L, vm, luaEventHandler{
		eventType: coordinator.EventSnapshotUpdated,
		channelID: channelID,
		fn:        fn,
	})
	return 0
}

// ubibot.get(channel, field) — current cached value for a canonical field.
func ubibotGet(L *lua.LState, e *Engine) int {
	channelID := L.CheckString(1)
	field := L.CheckString(2)

	c, ok := e.channels.Coordinator(channelID)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	snap, ok := c.Snapshot()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	key := field
	if ck, ok := fields.Canonical(field); ok {
		key = ck
	}
	v, present := fields.CanonicalValues(snap.LastValues())[key]
	if !present {
		L.Push(lua.LNil)
		return 1
	}
	if m, isMap := v.(map[string]any); isMap {
		if inner, has := m["value"]; has {
			v = inner
		}
	}
	L.Push(goToLua(L, v))
	return 1
}

// ubibot.set_switch(channel, on)
func ubibotSetSwitch(L *lua.LState, e *Engine) int {
	channelID := L.CheckString(1)
	on := L.CheckBool(2)

	sw, ok := e.entities.Switch(channelID)
	if !ok {
		e.logger.Warn("set_switch: channel unknown or not switchable", "channel", channelID)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if on {
		err = sw.TurnOn(ctx)
	} else {
		err = sw.TurnOff(ctx)
	}
	if err != nil {
		e.logger.Error("set_switch", "channel", channelID, "on", on, "err", err)
	}
	return 0
}

// ubibot.set_interval(channel, seconds)
func ubibotSetInterval(L *lua.LState, e *Engine) int {
	channelID := L.CheckString(1)
	seconds := L.CheckNumber(2)

	number, ok := e.entities.Number(channelID)
	if !ok {
		e.logger.Warn("set_interval: unknown channel", "channel", channelID)
		return 0
	}

	applied := number.SetValue(float64(seconds))
	L.Push(lua.LNumber(applied))
	return 1
}

// ubibot.refresh(channel)
func ubibotRefresh(L *lua.LState, e *Engine) int {
	channelID := L.CheckString(1)
	if c, ok := e.channels.Coordinator(channelID); ok {
		c.RequestRefresh()
	}
	return 0
}

// ubibot.channels() — returns a table of all configured channels.
func ubibotChannels(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, c := range e.channels.Coordinators() {
		d := L.NewTable()
		d.RawSetString("channel_id", lua.LString(c.ChannelID()))
		d.RawSetString("name", lua.LString(c.ChannelName()))
		d.RawSetString("poll_seconds", lua.LNumber(c.IntervalSeconds()))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// ubibot.after(seconds, callback) — delayed execution
func ubibotAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// ubibot.log(msg)
func ubibotLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
