package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Semtech UDP gateway protocol, version 2.
 *
 * Description:	Every datagram starts with a 4-byte header:
 *
 *			| version | token_hi | token_lo | type |
 *
 *		Gateway-originated PUSH_DATA, PULL_DATA and TX_ACK are
 *		followed by the 8-byte gateway MAC in network order.
 *		JSON bodies follow where the table below says so.
 *
 *		  PUSH_DATA  0  gw->srv  {"rxpk":[...],"stat":{...}}
 *		  PUSH_ACK   1  srv->gw  -
 *		  PULL_DATA  2  gw->srv  -
 *		  PULL_RESP  3  srv->gw  {"txpk":{...}}
 *		  PULL_ACK   4  srv->gw  -
 *		  TX_ACK     5  gw->srv  - or {"txpk_ack":{...}}
 *
 * Reference:	Semtech packet forwarder PROTOCOL.TXT, v1.6.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const PROTOCOL_VERSION = 2

/* rxpk JSON frame format announced in "jver". */
const PROTOCOL_JSON_RXPK_FRAME_FORMAT = 1

const (
	PKT_PUSH_DATA = 0
	PKT_PUSH_ACK  = 1
	PKT_PULL_DATA = 2
	PKT_PULL_RESP = 3
	PKT_PULL_ACK  = 4
	PKT_TX_ACK    = 5
)

/*
 * rxpk_t is one received radio packet as serialized upstream.
 * Optional fields are pointers so that json omits them entirely when
 * absent, matching what servers expect.
 */
type rxpk_t struct {
	Jver  int     `json:"jver"`
	Tmst  uint32  `json:"tmst"`
	Time  *string `json:"time,omitempty"` /* UTC, ISO 8601 compact, us precision */
	Tmms  *uint64 `json:"tmms,omitempty"` /* GPS time in ms since 1980-01-06 */
	Ftime *uint32 `json:"ftime,omitempty"`
	Chan  uint8   `json:"chan"`
	Rfch  uint8   `json:"rfch"`
	Freq  float64 `json:"freq"` /* MHz */
	Mid   uint8   `json:"mid"`
	Stat  int     `json:"stat"` /* 1 CRC ok, -1 CRC bad, 0 no CRC */
	Modu  string  `json:"modu"` /* "LORA" or "FSK" */
	Datr  any     `json:"datr"` /* "SF9BW125" for LoRa, bitrate int for FSK */
	Codr  string  `json:"codr,omitempty"`
	Rssis *int    `json:"rssis,omitempty"`
	Lsnr  *float64 `json:"lsnr,omitempty"`
	Foff  *int32  `json:"foff,omitempty"`
	Rssi  int     `json:"rssi"`
	Size  uint16  `json:"size"`
	Data  string  `json:"data"` /* base64 payload */
}

/* stat_t is the periodic gateway status record. */
type stat_t struct {
	Time string   `json:"time"`
	Lati *float64 `json:"lati,omitempty"`
	Long *float64 `json:"long,omitempty"`
	Alti *int     `json:"alti,omitempty"`
	Rxnb uint32   `json:"rxnb"`
	Rxok uint32   `json:"rxok"`
	Rxfw uint32   `json:"rxfw"`
	Ackr float64  `json:"ackr"`
	Dwnb uint32   `json:"dwnb"`
	Txnb uint32   `json:"txnb"`
	Temp float64  `json:"temp"`
}

/* push_data_body_t is the JSON body of a PUSH_DATA datagram. */
type push_data_body_t struct {
	Rxpk []rxpk_t `json:"rxpk,omitempty"`
	Stat *stat_t  `json:"stat,omitempty"`
}

/*
 * txpk_t is the downlink request as received in a PULL_RESP.  Pointer
 * fields distinguish "absent" from zero values; validation happens in
 * parse_tx_request, not here.
 */
type txpk_t struct {
	Imme *bool    `json:"imme"`
	Tmst *uint32  `json:"tmst"`
	Tmms *uint64  `json:"tmms"`
	Freq *float64 `json:"freq"` /* MHz */
	Rfch *uint8   `json:"rfch"`
	Powe *int8    `json:"powe"`
	Modu *string  `json:"modu"`
	Datr *json.RawMessage `json:"datr"` /* string for LoRa, number for FSK */
	Codr *string  `json:"codr"`
	Fdev *uint32  `json:"fdev"` /* Hz */
	Ipol *bool    `json:"ipol"`
	Prea *uint16  `json:"prea"`
	Ncrc *bool    `json:"ncrc"`
	Nhdr *bool    `json:"nhdr"`
	Size *uint16  `json:"size"`
	Data *string  `json:"data"`
}

type pull_resp_body_t struct {
	Txpk *txpk_t `json:"txpk"`
}

/* txpk_ack_t is the body of a non-empty TX_ACK. */
type txpk_ack_t struct {
	Error string `json:"error,omitempty"`
	Warn  string `json:"warn,omitempty"`
	Value *int32 `json:"value,omitempty"`
}

type tx_ack_body_t struct {
	TxpkAck txpk_ack_t `json:"txpk_ack"`
}

/*-------------------------------------------------------------------
 *
 * Name:	make_gateway_datagram
 *
 * Purpose:	Compose a gateway-originated datagram: 12-byte header
 *		(version, token, type, MAC) plus an optional body.
 *
 *--------------------------------------------------------------------*/

func make_gateway_datagram(token uint16, pkt_type byte, mac uint64, body []byte) []byte {
	var buff = make([]byte, 12, 12+len(body))
	buff[0] = PROTOCOL_VERSION
	buff[1] = byte(token >> 8)
	buff[2] = byte(token)
	buff[3] = pkt_type
	binary.BigEndian.PutUint64(buff[4:12], mac)
	return append(buff, body...)
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_downlink_datagram
 *
 * Purpose:	Header check for datagrams arriving on the downstream
 *		socket.  Anything that is not a version-2 PULL_ACK or
 *		PULL_RESP is rejected.
 *
 * Returns:	token, type, JSON body (nil for PULL_ACK), error.
 *
 *--------------------------------------------------------------------*/

func parse_downlink_datagram(buff []byte) (uint16, byte, []byte, error) {
	if len(buff) < 4 {
		return 0, 0, nil, fmt.Errorf("datagram too short (%d bytes)", len(buff))
	}
	if buff[0] != PROTOCOL_VERSION {
		return 0, 0, nil, fmt.Errorf("unknown protocol version %d", buff[0])
	}
	var token = uint16(buff[1])<<8 | uint16(buff[2])
	var pkt_type = buff[3]
	switch pkt_type {
	case PKT_PULL_ACK:
		return token, pkt_type, nil, nil
	case PKT_PULL_RESP:
		return token, pkt_type, buff[4:], nil
	default:
		return 0, 0, nil, fmt.Errorf("unexpected downstream datagram type %d", pkt_type)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	is_push_ack
 *
 * Purpose:	Does this upstream datagram acknowledge the given token?
 *
 *--------------------------------------------------------------------*/

func is_push_ack(buff []byte, token uint16) bool {
	return len(buff) >= 4 &&
		buff[0] == PROTOCOL_VERSION &&
		buff[3] == PKT_PUSH_ACK &&
		uint16(buff[1])<<8|uint16(buff[2]) == token
}

/*-------------------------------------------------------------------
 *
 * Name:	make_tx_ack
 *
 * Purpose:	Compose the TX_ACK for a PULL_RESP.  The token echoes
 *		the PULL_RESP's.  JIT_ERROR_OK gives an empty body;
 *		errors and warnings carry a txpk_ack JSON object, with
 *		the substituted power in "value" for TX_POWER warnings.
 *
 *--------------------------------------------------------------------*/

func make_tx_ack(token uint16, mac uint64, result jit_error_t, value int32) []byte {
	if result == JIT_ERROR_OK {
		return make_gateway_datagram(token, PKT_TX_ACK, mac, nil)
	}

	var ack tx_ack_body_t
	switch result {
	case JIT_ERROR_TX_POWER:
		ack.TxpkAck.Warn = "TX_POWER"
		ack.TxpkAck.Value = &value
	case JIT_ERROR_FULL, JIT_ERROR_COLLISION_PACKET:
		ack.TxpkAck.Error = "COLLISION_PACKET"
	case JIT_ERROR_COLLISION_BEACON:
		ack.TxpkAck.Error = "COLLISION_BEACON"
	case JIT_ERROR_TOO_LATE:
		ack.TxpkAck.Error = "TOO_LATE"
	case JIT_ERROR_TOO_EARLY:
		ack.TxpkAck.Error = "TOO_EARLY"
	case JIT_ERROR_TX_FREQ:
		ack.TxpkAck.Error = "TX_FREQ"
	case JIT_ERROR_GPS_UNLOCKED:
		ack.TxpkAck.Error = "GPS_UNLOCKED"
	default:
		ack.TxpkAck.Error = "UNKNOWN"
	}

	var body, err = json.Marshal(&ack)
	if err != nil {
		/* a struct of strings cannot fail to marshal */
		body = nil
	}
	return make_gateway_datagram(token, PKT_TX_ACK, mac, body)
}

/*-------------------------------------------------------------------
 *
 * Name:	format_datr / parse_lora_datr
 *
 * Purpose:	The "SFxxBWyyy" datarate identifier.
 *
 *--------------------------------------------------------------------*/

func format_datr(datarate datarate_t, bandwidth bandwidth_t) string {
	return fmt.Sprintf("SF%dBW%d", int(datarate), int(bandwidth)/1000)
}

func parse_lora_datr(s string) (datarate_t, bandwidth_t, error) {
	var sf, bw int
	var n, err = fmt.Sscanf(s, "SF%dBW%d", &sf, &bw)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("malformed datarate %q", s)
	}
	if sf < 5 || sf > 12 {
		return 0, 0, fmt.Errorf("invalid spreading factor in %q", s)
	}
	var bandwidth bandwidth_t
	switch bw {
	case 125:
		bandwidth = BW_125KHZ
	case 250:
		bandwidth = BW_250KHZ
	case 500:
		bandwidth = BW_500KHZ
	default:
		return 0, 0, fmt.Errorf("invalid bandwidth in %q", s)
	}
	return datarate_t(sf), bandwidth, nil
}

func format_codr(coderate coderate_t) string {
	switch coderate {
	case CR_LORA_4_5:
		return "4/5"
	case CR_LORA_4_6:
		return "4/6"
	case CR_LORA_4_7:
		return "4/7"
	case CR_LORA_4_8:
		return "4/8"
	default:
		return "OFF" /* CR0, mostly false sync */
	}
}

func parse_codr(s string) (coderate_t, error) {
	switch s {
	case "4/5":
		return CR_LORA_4_5, nil
	case "4/6", "2/3":
		return CR_LORA_4_6, nil
	case "4/7":
		return CR_LORA_4_7, nil
	case "4/8", "1/2":
		return CR_LORA_4_8, nil
	default:
		return 0, fmt.Errorf("invalid coderate %q", s)
	}
}
