// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"

	"squadlet-go/internal/ledger"
	"squadlet-go/internal/multisig"
)

var errBadRequest = errors.New("bad request")

func parseKey(s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid key %q: %v", errBadRequest, s, err)
	}
	return key, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) readAccount(key solana.PublicKey) (*ledger.Account, error) {
	var acct *ledger.Account
	err := s.store.View(func(st ledger.Tx) error {
		var err error
		acct, err = st.Get(key)
		return err
	})
	return acct, err
}

// accountMetaJSON is the wire form of one account reference.
type accountMetaJSON struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

func toAccountMetas(in []accountMetaJSON) ([]multisig.AccountMeta, error) {
	out := make([]multisig.AccountMeta, len(in))
	for i, m := range in {
		key, err := parseKey(m.Pubkey)
		if err != nil {
			return nil, err
		}
		out[i] = multisig.AccountMeta{Pubkey: key, IsSigner: m.IsSigner, IsWritable: m.IsWritable}
	}
	return out, nil
}

func fromAccountMetas(in []multisig.AccountMeta) []accountMetaJSON {
	out := make([]accountMetaJSON, len(in))
	for i, m := range in {
		out[i] = accountMetaJSON{Pubkey: m.Pubkey.String(), IsSigner: m.IsSigner, IsWritable: m.IsWritable}
	}
	return out
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// ---------------------------------------------------------------
// Registry
// ---------------------------------------------------------------

type createMultisigRequest struct {
	Creator   string   `json:"creator"`
	Threshold uint16   `json:"threshold"`
	Members   []string `json:"members"`
	Meta      string   `json:"meta"`
	CreateKey string   `json:"createKey,omitempty"`
}

type createMultisigResponse struct {
	Address   string `json:"address"`
	CreateKey string `json:"createKey"`
	Bump      uint8  `json:"bump"`
}

func (s *Server) CreateMultisig(w http.ResponseWriter, r *http.Request) {
	var req createMultisigRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	creator, err := parseKey(req.Creator)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// a fresh random create key unless the caller pins one
	createKey := solana.NewWallet().PrivateKey.PublicKey()
	if req.CreateKey != "" {
		if createKey, err = parseKey(req.CreateKey); err != nil {
			s.writeError(w, err)
			return
		}
	}

	members := make([]solana.PublicKey, 0, len(req.Members))
	for _, m := range req.Members {
		key, err := parseKey(m)
		if err != nil {
			s.writeError(w, err)
			return
		}
		members = append(members, key)
	}

	msPDA, bump := multisig.GetMultisigPDA(createKey, s.engine.ID)
	ix, err := multisig.NewCreateInstruction(s.engine.ID, msPDA, creator, multisig.CreateArgs{
		Threshold: req.Threshold,
		CreateKey: createKey,
		Members:   members,
		Meta:      req.Meta,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createMultisigResponse{
		Address:   msPDA.String(),
		CreateKey: createKey.String(),
		Bump:      bump,
	})
}

type multisigResponse struct {
	Address              string   `json:"address"`
	Threshold            uint16   `json:"threshold"`
	AuthorityIndex       uint16   `json:"authorityIndex"`
	TransactionIndex     uint32   `json:"transactionIndex"`
	ChangeIndex          uint32   `json:"changeIndex"`
	AllowExternalExecute bool     `json:"allowExternalExecute"`
	Members              []string `json:"members"`
	Lamports             uint64   `json:"lamports"`
	BalanceSOL           string   `json:"balanceSol"`
}

func (s *Server) GetMultisig(w http.ResponseWriter, r *http.Request) {
	addr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	acct, err := s.readAccount(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ms, err := multisig.DecodeMs(acct.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, multisigResponse{
		Address:              addr.String(),
		Threshold:            ms.Threshold,
		AuthorityIndex:       ms.AuthorityIndex,
		TransactionIndex:     ms.TransactionIndex,
		ChangeIndex:          ms.MsChangeIndex,
		AllowExternalExecute: ms.AllowExternalExecute,
		Members:              keyStrings(ms.Keys),
		Lamports:             acct.Lamports,
		BalanceSOL:           ledger.LamportsToSOL(acct.Lamports).String(),
	})
}

type authorityResponse struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
	Bump    uint8  `json:"bump"`
}

func (s *Server) GetAuthority(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := parseKey(vars["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	index, err := strconv.ParseUint(vars["index"], 10, 32)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid authority index: %v", errBadRequest, err))
		return
	}

	if index == 0 {
		// authority 0 is the registry's own identity
		acct, err := s.readAccount(addr)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ms, err := multisig.DecodeMs(acct.Data)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, authorityResponse{Address: addr.String(), Index: 0, Bump: ms.Bump})
		return
	}

	authority, bump := multisig.GetAuthorityPDA(addr, uint32(index), s.engine.ID)
	s.writeJSON(w, http.StatusOK, authorityResponse{Address: authority.String(), Index: uint32(index), Bump: bump})
}

type buildGovernanceRequest struct {
	Member    string `json:"member,omitempty"`
	Threshold uint16 `json:"threshold,omitempty"`
	Allow     bool   `json:"allow,omitempty"`
}

// builtInstruction is a ready-to-stage instruction payload: pass it
// straight to the add-instruction endpoint of an authority-0 proposal.
type builtInstruction struct {
	ProgramID string            `json:"programId"`
	Accounts  []accountMetaJSON `json:"accounts"`
	Data      string            `json:"data"`
}

// BuildGovernanceInstruction assembles one governance instruction so
// clients do not have to reimplement the discriminator and borsh
// encoding themselves. Governance only runs under quorum, so the
// result is inert until staged, approved and executed.
func (s *Server) BuildGovernanceInstruction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msAddr, err := parseKey(vars["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req buildGovernanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	member := solana.PublicKey{}
	if req.Member != "" {
		if member, err = parseKey(req.Member); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var ix multisig.Instruction
	switch op := vars["op"]; op {
	case "add-member":
		ix, err = multisig.NewAddMemberInstruction(s.engine.ID, msAddr, member)
	case "remove-member":
		ix, err = multisig.NewRemoveMemberInstruction(s.engine.ID, msAddr, member)
	case "change-threshold":
		ix, err = multisig.NewChangeThresholdInstruction(s.engine.ID, msAddr, req.Threshold)
	case "add-member-and-change-threshold":
		ix, err = multisig.NewAddMemberAndChangeThresholdInstruction(s.engine.ID, msAddr, member, req.Threshold)
	case "remove-member-and-change-threshold":
		ix, err = multisig.NewRemoveMemberAndChangeThresholdInstruction(s.engine.ID, msAddr, member, req.Threshold)
	case "add-authority":
		ix, err = multisig.NewAddAuthorityInstruction(s.engine.ID, msAddr)
	case "set-external-execute":
		ix, err = multisig.NewSetExternalExecuteInstruction(s.engine.ID, msAddr, req.Allow)
	default:
		err = fmt.Errorf("%w: unknown governance operation %q", errBadRequest, op)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, builtInstruction{
		ProgramID: ix.ProgramID.String(),
		Accounts:  fromAccountMetas(ix.Keys),
		Data:      base58.Encode(ix.Data),
	})
}

// ---------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------

type createTransactionRequest struct {
	Creator        string `json:"creator"`
	AuthorityIndex uint32 `json:"authorityIndex"`
}

type createTransactionResponse struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
}

func (s *Server) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	msAddr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	creator, err := parseKey(req.Creator)
	if err != nil {
		s.writeError(w, err)
		return
	}

	acct, err := s.readAccount(msAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ms, err := multisig.DecodeMs(acct.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	newIndex := ms.TransactionIndex + 1
	txPDA, _ := multisig.GetTransactionPDA(msAddr, newIndex, s.engine.ID)
	ix, err := multisig.NewCreateTransactionInstruction(s.engine.ID, msAddr, txPDA, creator, req.AuthorityIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createTransactionResponse{Address: txPDA.String(), Index: newIndex})
}

type transactionResponse struct {
	Address          string   `json:"address"`
	Multisig         string   `json:"multisig"`
	Creator          string   `json:"creator"`
	Index            uint32   `json:"index"`
	AuthorityIndex   uint32   `json:"authorityIndex"`
	Status           string   `json:"status"`
	InstructionCount uint8    `json:"instructionCount"`
	ExecutedIndex    uint8    `json:"executedIndex"`
	Approved         []string `json:"approved"`
	Rejected         []string `json:"rejected"`
	Cancelled        []string `json:"cancelled"`
}

func (s *Server) loadTransactionRecord(addr solana.PublicKey) (*multisig.MsTransaction, error) {
	acct, err := s.readAccount(addr)
	if err != nil {
		return nil, err
	}
	return multisig.DecodeMsTransaction(acct.Data)
}

func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	addr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.loadTransactionRecord(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionResponse{
		Address:          addr.String(),
		Multisig:         tx.Ms.String(),
		Creator:          tx.Creator.String(),
		Index:            tx.TransactionIndex,
		AuthorityIndex:   tx.AuthorityIndex,
		Status:           tx.Status.String(),
		InstructionCount: tx.InstructionIndex,
		ExecutedIndex:    tx.ExecutedIndex,
		Approved:         keyStrings(tx.Approved),
		Rejected:         keyStrings(tx.Rejected),
		Cancelled:        keyStrings(tx.Cancelled),
	})
}

type addInstructionRequest struct {
	Creator   string            `json:"creator"`
	ProgramID string            `json:"programId"`
	Accounts  []accountMetaJSON `json:"accounts"`
	Data      string            `json:"data"` // base58
}

type addInstructionResponse struct {
	Address string `json:"address"`
	Index   uint8  `json:"index"`
}

func (s *Server) AddInstruction(w http.ResponseWriter, r *http.Request) {
	txAddr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req addInstructionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	creator, err := parseKey(req.Creator)
	if err != nil {
		s.writeError(w, err)
		return
	}
	programID, err := parseKey(req.ProgramID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	keys, err := toAccountMetas(req.Accounts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := base58.Decode(req.Data)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid base58 data: %v", errBadRequest, err))
		return
	}

	tx, err := s.loadTransactionRecord(txAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	newIndex := tx.InstructionIndex + 1
	ixPDA, _ := multisig.GetInstructionPDA(txAddr, newIndex, s.engine.ID)

	ix, err := multisig.NewAddInstructionInstruction(s.engine.ID, tx.Ms, txAddr, ixPDA, creator, multisig.Instruction{
		ProgramID: programID,
		Keys:      keys,
		Data:      data,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, addInstructionResponse{Address: ixPDA.String(), Index: newIndex})
}

type instructionResponse struct {
	Address   string            `json:"address"`
	Index     uint8             `json:"index"`
	ProgramID string            `json:"programId"`
	Accounts  []accountMetaJSON `json:"accounts"`
	Data      string            `json:"data"`
	Executed  bool              `json:"executed"`
}

func (s *Server) GetInstruction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	txAddr, err := parseKey(vars["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	index, err := strconv.ParseUint(vars["index"], 10, 8)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid instruction index: %v", errBadRequest, err))
		return
	}

	ixPDA, _ := multisig.GetInstructionPDA(txAddr, uint8(index), s.engine.ID)
	acct, err := s.readAccount(ixPDA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := multisig.DecodeMsInstruction(acct.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instructionResponse{
		Address:   ixPDA.String(),
		Index:     rec.InstructionIndex,
		ProgramID: rec.ProgramID.String(),
		Accounts:  fromAccountMetas(rec.Keys),
		Data:      base58.Encode(rec.Data),
		Executed:  rec.Executed,
	})
}

// ---------------------------------------------------------------
// Votes and execution
// ---------------------------------------------------------------

type signerRequest struct {
	Member string `json:"member"`
}

type voteBuilder func(programID, msPDA, txPDA, member solana.PublicKey) (multisig.Instruction, error)

func (s *Server) voteHandler(w http.ResponseWriter, r *http.Request, build voteBuilder) {
	txAddr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req signerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	member, err := parseKey(req.Member)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.loadTransactionRecord(txAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ix, err := build(s.engine.ID, tx.Ms, txAddr, member)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithTransaction(w, txAddr)
}

func (s *Server) respondWithTransaction(w http.ResponseWriter, txAddr solana.PublicKey) {
	tx, err := s.loadTransactionRecord(txAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionResponse{
		Address:          txAddr.String(),
		Multisig:         tx.Ms.String(),
		Creator:          tx.Creator.String(),
		Index:            tx.TransactionIndex,
		AuthorityIndex:   tx.AuthorityIndex,
		Status:           tx.Status.String(),
		InstructionCount: tx.InstructionIndex,
		ExecutedIndex:    tx.ExecutedIndex,
		Approved:         keyStrings(tx.Approved),
		Rejected:         keyStrings(tx.Rejected),
		Cancelled:        keyStrings(tx.Cancelled),
	})
}

func (s *Server) ActivateTransaction(w http.ResponseWriter, r *http.Request) {
	s.voteHandler(w, r, func(programID, msPDA, txPDA, member solana.PublicKey) (multisig.Instruction, error) {
		return multisig.NewActivateTransactionInstruction(programID, msPDA, txPDA, member)
	})
}

func (s *Server) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	s.voteHandler(w, r, multisig.NewApproveTransactionInstruction)
}

func (s *Server) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	s.voteHandler(w, r, multisig.NewRejectTransactionInstruction)
}

func (s *Server) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	s.voteHandler(w, r, multisig.NewCancelTransactionInstruction)
}

// ExecuteTransaction assembles the atomic-batch account list from the
// stored instruction records, the same layout the engine re-verifies:
// per instruction, the record account, the target program, then each
// declared account.
func (s *Server) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	txAddr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req signerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	member, err := parseKey(req.Member)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.loadTransactionRecord(txAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var remaining []multisig.AccountMeta
	for i := uint8(1); i <= tx.InstructionIndex; i++ {
		ixPDA, _ := multisig.GetInstructionPDA(txAddr, i, s.engine.ID)
		acct, err := s.readAccount(ixPDA)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rec, err := multisig.DecodeMsInstruction(acct.Data)
		if err != nil {
			s.writeError(w, err)
			return
		}
		remaining = append(remaining, multisig.AccountMeta{Pubkey: ixPDA})
		remaining = append(remaining, multisig.AccountMeta{Pubkey: rec.ProgramID})
		remaining = append(remaining, rec.Keys...)
	}

	accountList := make([]byte, len(remaining))
	for i := range remaining {
		accountList[i] = byte(i)
	}

	ix, err := multisig.NewExecuteTransactionInstruction(s.engine.ID, tx.Ms, txAddr, member, accountList, remaining)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithTransaction(w, txAddr)
}

// ExecuteInstruction runs the next sequential step of a transaction.
func (s *Server) ExecuteInstruction(w http.ResponseWriter, r *http.Request) {
	txAddr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req signerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	member, err := parseKey(req.Member)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.loadTransactionRecord(txAddr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	nextIndex := tx.ExecutedIndex + 1
	ixPDA, _ := multisig.GetInstructionPDA(txAddr, nextIndex, s.engine.ID)
	acct, err := s.readAccount(ixPDA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := multisig.DecodeMsInstruction(acct.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	remaining := append([]multisig.AccountMeta{{Pubkey: rec.ProgramID}}, rec.Keys...)
	ix, err := multisig.NewExecuteInstructionInstruction(s.engine.ID, tx.Ms, txAddr, ixPDA, member, remaining)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Process(ix); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithTransaction(w, txAddr)
}

// ---------------------------------------------------------------
// Dev conveniences
// ---------------------------------------------------------------

type accountResponse struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	BalanceSOL string `json:"balanceSol"`
	DataLen    int    `json:"dataLen"`
}

func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	acct, err := s.readAccount(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accountResponse{
		Address:    addr.String(),
		Owner:      acct.Owner.String(),
		Lamports:   acct.Lamports,
		BalanceSOL: ledger.LamportsToSOL(acct.Lamports).String(),
		DataLen:    len(acct.Data),
	})
}

type airdropRequest struct {
	Lamports uint64 `json:"lamports"`
}

// Airdrop credits lamports to an account, creating it if needed. This
// exists so payers can fund record allocation in dev environments.
func (s *Server) Airdrop(w http.ResponseWriter, r *http.Request) {
	addr, err := parseKey(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req airdropRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	err = s.store.Update(func(st ledger.Tx) error {
		acct, err := st.Get(addr)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			acct = &ledger.Account{Key: addr, Owner: solana.SystemProgramID}
		} else if err != nil {
			return err
		}
		acct.Lamports += req.Lamports
		return st.Put(acct)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	acct, err := s.readAccount(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accountResponse{
		Address:    addr.String(),
		Owner:      acct.Owner.String(),
		Lamports:   acct.Lamports,
		BalanceSOL: ledger.LamportsToSOL(acct.Lamports).String(),
		DataLen:    len(acct.Data),
	})
}
