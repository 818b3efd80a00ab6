package solstep_protocol

import (
	"encoding/json"
	"fmt"
	"sync"
)

type IDL struct {
	Version      string              `json:"version"`
	Name         string              `json:"name"`
	Address      string              `json:"address"`
	Instructions []IDLInstruction    `json:"instructions"`
	Accounts     []IDLAccountType    `json:"accounts"`
	Types        []IDLTypeDefinition `json:"types"`
	Errors       []IDLError          `json:"errors"`
}

type IDLInstruction struct {
	Name          string       `json:"name"`
	Discriminator []byte       `json:"discriminator"`
	Args          []IDLField   `json:"args"`
	Accounts      []IDLAccount `json:"accounts"`
}

type IDLAccountType struct {
	Name          string `json:"name"`
	Discriminator []byte `json:"discriminator"`
}

type IDLField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type IDLAccount struct {
	Name     string `json:"name"`
	IsMut    bool   `json:"isMut"`
	IsSigner bool   `json:"isSigner"`
}

type IDLTypeDefinition struct {
	Name string `json:"name"`
	Type struct {
		Kind   string     `json:"kind"`
		Fields []IDLField `json:"fields"`
	} `json:"type"`
}

type IDLError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

func ParseIDL(idlBytes []byte) (*IDL, error) {
	var idl IDL
	err := json.Unmarshal(idlBytes, &idl)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling IDL JSON: %w", err)
	}
	return &idl, nil
}

var (
	initIdlOnce        sync.Once
	initIdlErr         error
	idlData            *IDL
	instructionNameMap map[[8]byte]string
)

// LoadIDL parses the embedded program IDL once.
func LoadIDL() (*IDL, error) {
	initIdlOnce.Do(func() {
		idlData, initIdlErr = ParseIDL([]byte(idlJSON))
		if initIdlErr != nil {
			return
		}
		instructionNameMap = make(map[[8]byte]string, len(idlData.Instructions))
		for _, ix := range idlData.Instructions {
			var disc [8]byte
			copy(disc[:], ix.Discriminator)
			instructionNameMap[disc] = ix.Name
		}
	})
	return idlData, initIdlErr
}

// InstructionName names an instruction payload by its discriminator.
func InstructionName(data []byte) string {
	if _, err := LoadIDL(); err != nil || len(data) < 8 {
		return "unknown"
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if name, ok := instructionNameMap[disc]; ok {
		return name
	}
	return "unknown"
}

const idlJSON = `{
  "version": "0.1.0",
  "name": "solstep",
  "address": "3aezMEt3EwNGU7uxBSNNwmXN5b54WXzmyosXpXSdma52",
  "instructions": [
    {
      "name": "create_challenge",
      "discriminator": [170, 244, 47, 1, 1, 15, 173, 239],
      "accounts": [
        {"name": "organizer", "isMut": true, "isSigner": true},
        {"name": "organizer_stats", "isMut": true, "isSigner": false},
        {"name": "challenge", "isMut": true, "isSigner": false},
        {"name": "system_program", "isMut": false, "isSigner": false}
      ],
      "args": [
        {"name": "title", "type": "string"},
        {"name": "stake_amount", "type": "u64"},
        {"name": "start_ts", "type": "i64"},
        {"name": "end_ts", "type": "i64"},
        {"name": "max_participants", "type": "u32"}
      ]
    },
    {
      "name": "join_challenge",
      "discriminator": [41, 104, 214, 73, 32, 168, 76, 79],
      "accounts": [
        {"name": "participant", "isMut": true, "isSigner": true},
        {"name": "challenge", "isMut": true, "isSigner": false},
        {"name": "escrow", "isMut": true, "isSigner": false},
        {"name": "system_program", "isMut": false, "isSigner": false}
      ],
      "args": []
    },
    {
      "name": "init_escrow",
      "discriminator": [70, 46, 40, 23, 6, 11, 81, 139],
      "accounts": [
        {"name": "organizer", "isMut": true, "isSigner": true},
        {"name": "challenge", "isMut": true, "isSigner": false},
        {"name": "escrow", "isMut": true, "isSigner": false},
        {"name": "system_program", "isMut": false, "isSigner": false}
      ],
      "args": []
    },
    {
      "name": "finalize_challenge",
      "discriminator": [184, 38, 132, 51, 103, 143, 203, 9],
      "accounts": [
        {"name": "organizer", "isMut": true, "isSigner": true},
        {"name": "challenge", "isMut": true, "isSigner": false}
      ],
      "args": []
    },
    {
      "name": "settle_challenge",
      "discriminator": [242, 58, 232, 150, 127, 199, 11, 204],
      "accounts": [
        {"name": "organizer", "isMut": true, "isSigner": true},
        {"name": "winner", "isMut": true, "isSigner": false},
        {"name": "loser", "isMut": true, "isSigner": false},
        {"name": "challenge", "isMut": true, "isSigner": false},
        {"name": "escrow", "isMut": true, "isSigner": false},
        {"name": "system_program", "isMut": false, "isSigner": false}
      ],
      "args": []
    },
    {
      "name": "timeout_challenge",
      "discriminator": [15, 101, 245, 99, 220, 185, 252, 152],
      "accounts": [
        {"name": "caller", "isMut": false, "isSigner": true},
        {"name": "challenge", "isMut": true, "isSigner": false},
        {"name": "escrow", "isMut": true, "isSigner": false},
        {"name": "organizer", "isMut": true, "isSigner": false},
        {"name": "system_program", "isMut": false, "isSigner": false}
      ],
      "args": []
    },
    {
      "name": "close_challenge",
      "discriminator": [29, 156, 109, 17, 41, 99, 71, 236],
      "accounts": [
        {"name": "organizer", "isMut": true, "isSigner": true},
        {"name": "challenge", "isMut": true, "isSigner": false}
      ],
      "args": []
    }
  ],
  "accounts": [
    {"name": "Challenge", "discriminator": [119, 250, 161, 121, 119, 81, 22, 208]}
  ],
  "types": [
    {
      "name": "Challenge",
      "type": {
        "kind": "struct",
        "fields": [
          {"name": "organizer", "type": "pubkey"},
          {"name": "stake_amount", "type": "u64"},
          {"name": "start_ts", "type": "i64"},
          {"name": "end_ts", "type": "i64"},
          {"name": "max_participants", "type": "u32"},
          {"name": "participant_count", "type": "u32"},
          {"name": "total_stake", "type": "u64"},
          {"name": "is_finalized", "type": "bool"},
          {"name": "participants", "type": {"vec": "pubkey"}}
        ]
      }
    }
  ]
}`
