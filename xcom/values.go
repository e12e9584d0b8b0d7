package xcom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xcomlink/catalog"
	"xcomlink/family"
	"xcomlink/logging"
	"xcomlink/scom"
)

// throttleEvery inserts a pause after this many wire requests so the
// gateway's serial side can keep up during large batch reads.
const (
	throttleEvery = 10
	throttlePause = time.Second
)

// Item is one entry of a batch request. Exactly one selector should be set;
// a device code takes precedence over an address, which takes precedence
// over an explicit aggregation type. With no selector the master device is
// addressed. After the request either Value or Err is filled in.
type Item struct {
	Datapoint   catalog.Datapoint
	Code        string            // device code selector, e.g. "XT1"
	Addr        uint32            // bus address selector, e.g. 101
	Aggregation *scom.Aggregation // explicit aggregation selector

	Value interface{}
	Err   error
}

// aggregation resolves the item's selector to an aggregation type.
func (it Item) aggregation() (scom.Aggregation, error) {
	switch {
	case it.Code != "":
		return family.AggregationByCode(it.Code)
	case it.Addr != 0:
		return family.AggregationByAddr(it.Addr)
	case it.Aggregation != nil:
		if !it.Aggregation.Valid() {
			return 0, fmt.Errorf("invalid aggregation type 0x%02X", byte(*it.Aggregation))
		}
		return *it.Aggregation, nil
	default:
		return scom.AggrMaster, nil
	}
}

// destination resolves the item's selector for the single-request path.
func (it Item) destination() Destination {
	switch {
	case it.Code != "":
		return DstCode(it.Code)
	case it.Addr != 0:
		return DstAddr(it.Addr)
	default:
		return Destination{}
	}
}

// RequestInfos reads a set of info datapoints in one multi-info round trip
// via the RCC. All aggregation selectors are allowed here, including
// master, average and sum. Any parameter datapoint in the set is rejected
// locally.
func (c *Client) RequestInfos(ctx context.Context, items []Item) ([]Item, error) {
	req := scom.MultiInfoReq{Items: make([]scom.MultiInfoReqItem, 0, len(items))}
	for _, it := range items {
		if it.Datapoint.ObjType() != scom.ObjTypeInfo {
			return nil, &ParamError{Reason: fmt.Sprintf("datapoint %d (%s) is not an info", it.Datapoint.Nr, it.Datapoint.Name)}
		}
		aggr, err := it.aggregation()
		if err != nil {
			return nil, &ParamError{Reason: err.Error()}
		}
		req.Items = append(req.Items, scom.MultiInfoReqItem{
			UserInfoRef: uint16(it.Datapoint.Nr),
			Aggregation: aggr,
		})
	}

	rsp, err := c.requestMulti(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("RequestInfos: %w", err)
	}
	fillFromMulti(items, rsp)
	return items, nil
}

// RequestValues reads a mixed set of datapoints. Info datapoints whose
// selector is an explicit device-slot aggregation constant are grouped into
// multi-info batches; parameters and infos addressed by device code, bus
// address or master form are read one request at a time. Average and sum
// aggregations are not valid here, use RequestInfos for those. The returned
// slice mirrors the input order with Value or Err set per item.
func (c *Client) RequestValues(ctx context.Context, items []Item) ([]Item, error) {
	var multiIdx, singleIdx []int

	for i, it := range items {
		if it.Datapoint.ObjType() != scom.ObjTypeInfo || it.Code != "" || it.Addr != 0 || it.Aggregation == nil {
			singleIdx = append(singleIdx, i)
			continue
		}
		switch aggr := *it.Aggregation; {
		case aggr >= scom.AggrDevice1 && aggr <= scom.AggrDevice15:
			multiIdx = append(multiIdx, i)
		case aggr == scom.AggrAverage || aggr == scom.AggrSum:
			return nil, &ParamError{Reason: fmt.Sprintf(
				"aggregation %s is not valid for datapoint %d here, use RequestInfos", aggr, it.Datapoint.Nr)}
		case aggr == scom.AggrMaster:
			singleIdx = append(singleIdx, i)
		default:
			return nil, &ParamError{Reason: fmt.Sprintf("invalid aggregation type 0x%02X", byte(aggr))}
		}
	}

	requests := 0

	// Multi-info batches first. A timed-out batch marks its items failed
	// without individual retries; any other batch error sends the items
	// down the single-request path instead.
	for start := 0; start < len(multiIdx); start += scom.MultiInfoReqMax {
		end := start + scom.MultiInfoReqMax
		if end > len(multiIdx) {
			end = len(multiIdx)
		}
		batch := multiIdx[start:end]

		req := scom.MultiInfoReq{Items: make([]scom.MultiInfoReqItem, 0, len(batch))}
		for _, i := range batch {
			req.Items = append(req.Items, scom.MultiInfoReqItem{
				UserInfoRef: uint16(items[i].Datapoint.Nr),
				Aggregation: *items[i].Aggregation,
			})
		}

		rsp, err := c.requestMulti(ctx, req)
		requests++
		c.throttle(ctx, requests)
		switch {
		case err == nil:
			batchItems := make([]Item, len(batch))
			for k, i := range batch {
				batchItems[k] = items[i]
			}
			fillFromMulti(batchItems, rsp)
			for k, i := range batch {
				items[i] = batchItems[k]
			}
		case errors.Is(err, ErrTimeout):
			logging.DebugLog("xcom", "multi-info batch timed out, marking %d items failed", len(batch))
			for _, i := range batch {
				items[i].Err = err
			}
		default:
			logging.DebugLog("xcom", "multi-info batch failed (%v), falling back to single requests", err)
			singleIdx = append(singleIdx, batch...)
		}
	}

	// Remaining items one request at a time.
	for _, i := range singleIdx {
		value, err := c.RequestValue(ctx, items[i].Datapoint, items[i].destination())
		requests++
		c.throttle(ctx, requests)
		if err != nil {
			items[i].Err = err
			continue
		}
		items[i].Value = value
	}

	return items, nil
}

// requestMulti performs one multi-info round trip via the RCC.
func (c *Client) requestMulti(ctx context.Context, req scom.MultiInfoReq) (scom.MultiInfoRsp, error) {
	payload, err := req.Pack()
	if err != nil {
		return scom.MultiInfoRsp{}, err
	}

	pkg := scom.GenPackage(scom.ServiceRead, scom.ObjTypeMultiInfo, scom.ObjIDMultiInfo, scom.PropIDMultiInfo, payload, scom.AddrRCC)
	rsp, err := c.transact(ctx, pkg)
	if err != nil {
		return scom.MultiInfoRsp{}, err
	}
	return scom.UnpackMultiInfoRsp(rsp.Frame.Data)
}

// fillFromMulti distributes a multi-info response over the request items by
// user info reference, so a reordered response still lands on the right
// items. Duplicate references are consumed in order; an item the response
// left out gets a per-item error.
func fillFromMulti(items []Item, rsp scom.MultiInfoRsp) {
	byRef := make(map[uint16][]int, len(rsp.Items))
	for i, ri := range rsp.Items {
		byRef[ri.UserInfoRef] = append(byRef[ri.UserInfoRef], i)
	}

	for i := range items {
		ref := uint16(items[i].Datapoint.Nr)
		idxs := byRef[ref]
		if len(idxs) == 0 {
			items[i].Err = fmt.Errorf("fillFromMulti: no response item for info %d", ref)
			continue
		}
		byRef[ref] = idxs[1:]

		value, err := scom.Cast(rsp.Items[idxs[0]].Value, items[i].Datapoint.Format)
		if err != nil {
			items[i].Err = fmt.Errorf("%w: %v", ErrUnpack, err)
			continue
		}
		items[i].Value = value
	}
}

// throttle sleeps briefly after every tenth issued request so the batch
// traffic does not starve the gateway's own periodic uplink.
func (c *Client) throttle(ctx context.Context, issued int) {
	if issued%throttleEvery != 0 {
		return
	}
	select {
	case <-time.After(throttlePause):
	case <-ctx.Done():
	}
}
